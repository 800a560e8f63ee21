package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// StringSet is a sorted, de-duplicated list of names.
type StringSet []string

func NewStringSet(items ...string) StringSet {
	out := make(StringSet, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Canonical() StringSet {
	return NewStringSet(s...)
}

func (s StringSet) Contains(name string) bool {
	for _, it := range s {
		if it == name {
			return true
		}
	}
	return false
}

func (s StringSet) ContainsFold(name string) bool {
	for _, it := range s {
		if strings.EqualFold(it, name) {
			return true
		}
	}
	return false
}

// SetMap maps an object name (database, tablespace) to a set of names.
type SetMap map[string]StringSet

func (m SetMap) Add(key string, items ...string) {
	m[key] = NewStringSet(append(m[key], items...)...)
}

func (m SetMap) Canonical() SetMap {
	out := make(SetMap, len(m))
	for k, v := range m {
		out[k] = v.Canonical()
	}
	return out
}

// Union returns every name present under any key.
func (m SetMap) Union() StringSet {
	var all []string
	for _, v := range m {
		all = append(all, v...)
	}
	return NewStringSet(all...)
}

func (m SetMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValueKind tells how a resolved field is shaped.
type ValueKind int

const (
	ValueSet ValueKind = iota + 1
	ValueScalar
)

// Value is a permissions field as seen by rule predicates.
type Value struct {
	Kind          ValueKind
	Items         []string
	Text          string
	Size          int
	CaseSensitive bool
}

func SetValue(items []string) Value {
	return Value{Kind: ValueSet, Items: items, Size: len(items)}
}

func ScalarValue(s string) Value {
	return Value{Kind: ValueScalar, Text: s, Size: 1}
}

// Permissions is the vendor-specific privilege structure of an account.
// The set of implementations is closed: one per Vendor.
type Permissions interface {
	Vendor() Vendor
	// Canonical returns a copy with sorted sets and non-nil collections.
	Canonical() Permissions
	// Field resolves a top-level field, optionally narrowed by key.
	Field(name, key string, keyed bool) (Value, bool)
}

type MySQLPermissions struct {
	GlobalPrivileges   StringSet `json:"global_privileges"`
	DatabasePrivileges SetMap    `json:"database_privileges"`
}

func NewMySQLPermissions() *MySQLPermissions {
	return &MySQLPermissions{GlobalPrivileges: StringSet{}, DatabasePrivileges: SetMap{}}
}

func (p *MySQLPermissions) Vendor() Vendor { return VendorMySQL }

func (p *MySQLPermissions) Canonical() Permissions {
	return &MySQLPermissions{
		GlobalPrivileges:   p.GlobalPrivileges.Canonical(),
		DatabasePrivileges: p.DatabasePrivileges.Canonical(),
	}
}

func (p *MySQLPermissions) Field(name, key string, keyed bool) (Value, bool) {
	switch name {
	case "global_privileges":
		return SetValue(p.GlobalPrivileges), !keyed
	case "database_privileges":
		return setMapField(p.DatabasePrivileges, key, keyed)
	}
	return Value{}, false
}

type PostgreSQLPermissions struct {
	RoleAttributes       StringSet `json:"role_attributes"`
	DatabasePrivileges   StringSet `json:"database_privileges"`
	TablespacePrivileges StringSet `json:"tablespace_privileges"`
	MemberOf             StringSet `json:"member_of"`
	DatabaseGrants       SetMap    `json:"database_grants"`
	TablespaceGrants     SetMap    `json:"tablespace_grants"`
}

func NewPostgreSQLPermissions() *PostgreSQLPermissions {
	return &PostgreSQLPermissions{
		RoleAttributes:       StringSet{},
		DatabasePrivileges:   StringSet{},
		TablespacePrivileges: StringSet{},
		MemberOf:             StringSet{},
		DatabaseGrants:       SetMap{},
		TablespaceGrants:     SetMap{},
	}
}

func (p *PostgreSQLPermissions) Vendor() Vendor { return VendorPostgreSQL }

func (p *PostgreSQLPermissions) Canonical() Permissions {
	return &PostgreSQLPermissions{
		RoleAttributes:       p.RoleAttributes.Canonical(),
		DatabasePrivileges:   p.DatabasePrivileges.Canonical(),
		TablespacePrivileges: p.TablespacePrivileges.Canonical(),
		MemberOf:             p.MemberOf.Canonical(),
		DatabaseGrants:       p.DatabaseGrants.Canonical(),
		TablespaceGrants:     p.TablespaceGrants.Canonical(),
	}
}

func (p *PostgreSQLPermissions) Field(name, key string, keyed bool) (Value, bool) {
	switch name {
	case "role_attributes":
		return SetValue(p.RoleAttributes), !keyed
	case "member_of":
		return SetValue(p.MemberOf), !keyed
	case "database_privileges":
		if keyed {
			return setMapField(p.DatabaseGrants, key, true)
		}
		return SetValue(p.DatabasePrivileges), true
	case "tablespace_privileges":
		if keyed {
			return setMapField(p.TablespaceGrants, key, true)
		}
		return SetValue(p.TablespacePrivileges), true
	case "database_grants":
		return setMapField(p.DatabaseGrants, key, keyed)
	case "tablespace_grants":
		return setMapField(p.TablespaceGrants, key, keyed)
	}
	return Value{}, false
}

type SQLServerPermissions struct {
	ServerRoles         StringSet `json:"server_roles"`
	ServerPermissions   StringSet `json:"server_permissions"`
	DatabaseRoles       SetMap    `json:"database_roles"`
	DatabasePermissions SetMap    `json:"database_permissions"`
}

func NewSQLServerPermissions() *SQLServerPermissions {
	return &SQLServerPermissions{
		ServerRoles:         StringSet{},
		ServerPermissions:   StringSet{},
		DatabaseRoles:       SetMap{},
		DatabasePermissions: SetMap{},
	}
}

func (p *SQLServerPermissions) Vendor() Vendor { return VendorSQLServer }

func (p *SQLServerPermissions) Canonical() Permissions {
	return &SQLServerPermissions{
		ServerRoles:         p.ServerRoles.Canonical(),
		ServerPermissions:   p.ServerPermissions.Canonical(),
		DatabaseRoles:       p.DatabaseRoles.Canonical(),
		DatabasePermissions: p.DatabasePermissions.Canonical(),
	}
}

func (p *SQLServerPermissions) Field(name, key string, keyed bool) (Value, bool) {
	switch name {
	case "server_roles":
		return SetValue(p.ServerRoles), !keyed
	case "server_permissions":
		return SetValue(p.ServerPermissions), !keyed
	case "database_roles":
		return setMapField(p.DatabaseRoles, key, keyed)
	case "database_permissions":
		return setMapField(p.DatabasePermissions, key, keyed)
	}
	return Value{}, false
}

// ObjectPrivilege is one Oracle object grant.
type ObjectPrivilege struct {
	Owner     string `json:"owner"`
	Object    string `json:"object"`
	Privilege string `json:"privilege"`
}

func (o ObjectPrivilege) less(b ObjectPrivilege) bool {
	if o.Owner != b.Owner {
		return o.Owner < b.Owner
	}
	if o.Object != b.Object {
		return o.Object < b.Object
	}
	return o.Privilege < b.Privilege
}

// QuotaUnlimited is the tablespace quota value for max_bytes = -1.
const QuotaUnlimited = "UNLIMITED"

type OraclePermissions struct {
	Roles            StringSet         `json:"roles"`
	SystemPrivileges StringSet         `json:"system_privileges"`
	TablespaceQuotas map[string]string `json:"tablespace_quotas"`
	ObjectPrivileges []ObjectPrivilege `json:"object_privileges"`
}

func NewOraclePermissions() *OraclePermissions {
	return &OraclePermissions{
		Roles:            StringSet{},
		SystemPrivileges: StringSet{},
		TablespaceQuotas: map[string]string{},
		ObjectPrivileges: []ObjectPrivilege{},
	}
}

func (p *OraclePermissions) Vendor() Vendor { return VendorOracle }

func (p *OraclePermissions) Canonical() Permissions {
	quotas := make(map[string]string, len(p.TablespaceQuotas))
	for k, v := range p.TablespaceQuotas {
		quotas[k] = v
	}
	objs := make([]ObjectPrivilege, 0, len(p.ObjectPrivileges))
	objs = append(objs, p.ObjectPrivileges...)
	sort.Slice(objs, func(i, j int) bool { return objs[i].less(objs[j]) })
	dedup := objs[:0]
	for i, o := range objs {
		if i > 0 && o == objs[i-1] {
			continue
		}
		dedup = append(dedup, o)
	}
	return &OraclePermissions{
		Roles:            p.Roles.Canonical(),
		SystemPrivileges: p.SystemPrivileges.Canonical(),
		TablespaceQuotas: quotas,
		ObjectPrivileges: dedup,
	}
}

func (p *OraclePermissions) Field(name, key string, keyed bool) (Value, bool) {
	switch name {
	case "roles":
		return SetValue(p.Roles), !keyed
	case "system_privileges":
		return SetValue(p.SystemPrivileges), !keyed
	case "tablespace_quotas":
		if keyed {
			q, ok := p.TablespaceQuotas[key]
			return ScalarValue(q), ok
		}
		names := make([]string, 0, len(p.TablespaceQuotas))
		for ts := range p.TablespaceQuotas {
			names = append(names, ts)
		}
		return SetValue(NewStringSet(names...)), true
	case "object_privileges":
		var privs []string
		for _, o := range p.ObjectPrivileges {
			if keyed && o.Owner+"."+o.Object != key {
				continue
			}
			privs = append(privs, o.Privilege)
		}
		if keyed && len(privs) == 0 {
			return Value{}, false
		}
		v := SetValue(NewStringSet(privs...))
		if !keyed {
			v.Size = len(p.ObjectPrivileges)
		}
		v.CaseSensitive = keyed
		return v, true
	}
	return Value{}, false
}

func setMapField(m SetMap, key string, keyed bool) (Value, bool) {
	if !keyed {
		return SetValue(m.Union()), true
	}
	set, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return SetValue(set), true
}

// NewPermissions returns an empty permissions object for the vendor.
func NewPermissions(v Vendor) (Permissions, error) {
	switch v {
	case VendorMySQL:
		return NewMySQLPermissions(), nil
	case VendorPostgreSQL:
		return NewPostgreSQLPermissions(), nil
	case VendorSQLServer:
		return NewSQLServerPermissions(), nil
	case VendorOracle:
		return NewOraclePermissions(), nil
	}
	return nil, Errorf(CodeValidation, "permissions.new", "unsupported vendor %q", v)
}

// EncodePermissions renders the canonical JSON form of p.
func EncodePermissions(p Permissions) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Canonical())
}

// DecodePermissions parses data produced by EncodePermissions.
func DecodePermissions(v Vendor, data []byte) (Permissions, error) {
	p, err := NewPermissions(v)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s permissions: %w", v, err)
	}
	return p.Canonical(), nil
}
