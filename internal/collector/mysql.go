package collector

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"dbinventory/internal/core"
)

const (
	mysqlUsersQuery = `SELECT User, Host, account_locked, password_expired, plugin, password_last_changed FROM mysql.user`

	mysqlGlobalPrivsQuery = `SELECT GRANTEE, PRIVILEGE_TYPE, IS_GRANTABLE FROM information_schema.USER_PRIVILEGES`

	mysqlSchemaPrivsQuery = `SELECT GRANTEE, TABLE_SCHEMA, PRIVILEGE_TYPE, IS_GRANTABLE FROM information_schema.SCHEMA_PRIVILEGES`
)

var mysqlCategories = []string{"global_privileges", "database_privileges"}

type mysqlAdapter struct{}

func (mysqlAdapter) Vendor() core.Vendor { return core.VendorMySQL }

type mysqlUser struct {
	User            string
	Host            string
	Locked          string
	Expired         string
	Plugin          string
	PasswordChanged *time.Time
}

type mysqlPriv struct {
	Grantee   string
	Schema    string
	Privilege string
	Grantable string
}

type mysqlRaw struct {
	Users  []mysqlUser
	Global []mysqlPriv
	Schema []mysqlPriv
	// Grants holds SHOW GRANTS output, set only when information_schema
	// privileges were not readable.
	Grants map[core.AccountKey][]string
}

func (a mysqlAdapter) collect(ctx context.Context, r *runner) ([]core.AccountRecord, error) {
	raw, err := a.fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	return assembleMySQL(raw), nil
}

func (mysqlAdapter) fetch(ctx context.Context, r *runner) (*mysqlRaw, error) {
	raw := &mysqlRaw{}
	err := r.required(ctx, mysqlUsersQuery, func(rows *sql.Rows) error {
		var u mysqlUser
		var locked, expired, plugin sql.NullString
		var changed sql.NullTime
		if err := rows.Scan(&u.User, &u.Host, &locked, &expired, &plugin, &changed); err != nil {
			return err
		}
		u.Locked, u.Expired, u.Plugin = locked.String, expired.String, plugin.String
		if changed.Valid {
			t := changed.Time
			u.PasswordChanged = &t
		}
		raw.Users = append(raw.Users, u)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var denied bool
	ok, err := r.optional(ctx, mysqlCategories, mysqlGlobalPrivsQuery, func(rows *sql.Rows) error {
		var p mysqlPriv
		if err := rows.Scan(&p.Grantee, &p.Privilege, &p.Grantable); err != nil {
			return err
		}
		raw.Global = append(raw.Global, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	denied = !ok
	if ok {
		ok, err = r.optional(ctx, []string{"database_privileges"}, mysqlSchemaPrivsQuery, func(rows *sql.Rows) error {
			var p mysqlPriv
			if err := rows.Scan(&p.Grantee, &p.Schema, &p.Privilege, &p.Grantable); err != nil {
				return err
			}
			raw.Schema = append(raw.Schema, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
		denied = !ok
	}
	if !denied {
		return raw, nil
	}

	// information_schema was not readable: fall back to SHOW GRANTS.
	for _, c := range mysqlCategories {
		delete(r.partial, c)
	}
	r.note("mysql: information_schema privileges unreadable, used SHOW GRANTS")
	raw.Global, raw.Schema = nil, nil
	raw.Grants = make(map[core.AccountKey][]string, len(raw.Users))
	for _, u := range raw.Users {
		key := core.AccountKey{Username: u.User, HostQualifier: u.Host}
		var lines []string
		ok, err := r.optional(ctx, mysqlCategories, "SHOW GRANTS FOR "+sqlAccountLiteral(key), func(rows *sql.Rows) error {
			var line string
			if err := rows.Scan(&line); err != nil {
				return err
			}
			lines = append(lines, line)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		raw.Grants[key] = lines
	}
	return raw, nil
}

func sqlAccountLiteral(k core.AccountKey) string {
	esc := strings.NewReplacer(`\`, `\\`, `'`, `''`)
	return "'" + esc.Replace(k.Username) + "'@'" + esc.Replace(k.HostQualifier) + "'"
}

func assembleMySQL(raw *mysqlRaw) []core.AccountRecord {
	perms := make(map[core.AccountKey]*core.MySQLPermissions, len(raw.Users))
	get := func(k core.AccountKey) *core.MySQLPermissions {
		p, ok := perms[k]
		if !ok {
			p = core.NewMySQLPermissions()
			perms[k] = p
		}
		return p
	}

	for _, row := range raw.Global {
		k, ok := parseGrantee(row.Grantee)
		if !ok {
			continue
		}
		p := get(k)
		priv := strings.ToUpper(row.Privilege)
		if priv != "USAGE" {
			p.GlobalPrivileges = append(p.GlobalPrivileges, priv)
		}
		if yes(row.Grantable) {
			p.GlobalPrivileges = append(p.GlobalPrivileges, grantOption)
		}
	}
	for _, row := range raw.Schema {
		k, ok := parseGrantee(row.Grantee)
		if !ok {
			continue
		}
		p := get(k)
		privs := []string{strings.ToUpper(row.Privilege)}
		if yes(row.Grantable) {
			privs = append(privs, grantOption)
		}
		p.DatabasePrivileges.Add(row.Schema, privs...)
	}
	for k, lines := range raw.Grants {
		if parsed, err := ParseGrants(lines); err == nil {
			perms[k] = parsed
		}
	}

	out := make([]core.AccountRecord, 0, len(raw.Users))
	for _, u := range raw.Users {
		k := core.AccountKey{Username: u.User, HostQualifier: u.Host}
		p := get(k)
		p.GlobalPrivileges = core.NewStringSet(p.GlobalPrivileges...)

		rec := core.AccountRecord{
			Username:        u.User,
			HostQualifier:   u.Host,
			Kind:            core.KindUser,
			IsLocked:        yes(u.Locked),
			PasswordExpired: yes(u.Expired),
			Permissions:     p,
		}
		if u.Plugin != "" || u.PasswordChanged != nil {
			rec.Attributes = map[string]string{}
			if u.Plugin != "" {
				rec.Attributes["plugin"] = u.Plugin
			}
			if u.PasswordChanged != nil {
				rec.Attributes["password_last_changed"] = u.PasswordChanged.UTC().Format(time.RFC3339)
			}
		}
		rec.IsSuperuser = p.GlobalPrivileges.Contains("SUPER") || p.GlobalPrivileges.Contains("ALL PRIVILEGES")
		rec.CanGrant = p.GlobalPrivileges.Contains(grantOption)
		for _, set := range p.DatabasePrivileges {
			if set.Contains(grantOption) {
				rec.CanGrant = true
			}
		}
		out = append(out, rec)
	}
	return out
}
