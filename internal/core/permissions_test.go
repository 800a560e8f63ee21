package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePermissions_PreservesValue(t *testing.T) {
	ora := NewOraclePermissions()
	ora.Roles = NewStringSet("DBA", "CONNECT")
	ora.SystemPrivileges = NewStringSet("CREATE SESSION")
	ora.TablespaceQuotas["USERS"] = QuotaUnlimited
	ora.ObjectPrivileges = []ObjectPrivilege{
		{Owner: "SCOTT", Object: "EMP", Privilege: "SELECT"},
		{Owner: "APP", Object: "ORDERS", Privilege: "UPDATE"},
		{Owner: "APP", Object: "ORDERS", Privilege: "UPDATE"},
	}

	raw, err := EncodePermissions(ora)
	require.NoError(t, err)

	back, err := DecodePermissions(VendorOracle, raw)
	require.NoError(t, err)
	assert.Equal(t, ora.Canonical(), back)

	got := back.(*OraclePermissions)
	require.Len(t, got.ObjectPrivileges, 2)
	assert.Equal(t, "APP", got.ObjectPrivileges[0].Owner)
}

func TestDecodePermissions_EmptyData(t *testing.T) {
	p, err := DecodePermissions(VendorSQLServer, nil)
	require.NoError(t, err)
	assert.Equal(t, VendorSQLServer, p.Vendor())

	_, err = DecodePermissions(Vendor("db2"), []byte("{}"))
	assert.True(t, IsCode(err, CodeValidation))
}

func TestStructuralHash_OrderIndependent(t *testing.T) {
	a := NewMySQLPermissions()
	a.GlobalPrivileges = StringSet{"SELECT", "INSERT"}
	a.DatabasePrivileges.Add("db2", "UPDATE")
	a.DatabasePrivileges.Add("db1", "SELECT", "DELETE")

	b := NewMySQLPermissions()
	b.GlobalPrivileges = StringSet{"INSERT", "SELECT", "SELECT"}
	b.DatabasePrivileges.Add("db1", "DELETE", "SELECT")
	b.DatabasePrivileges.Add("db2", "UPDATE")

	ha, err := StructuralHash(AccountRecord{Username: "alice", Permissions: a})
	require.NoError(t, err)
	hb, err := StructuralHash(AccountRecord{Username: "alice", Permissions: b})
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestStructuralHash_FlagsAndLastLogin(t *testing.T) {
	base := AccountRecord{Username: "bob", Kind: KindUser, Permissions: NewMySQLPermissions()}
	h1, err := StructuralHash(base)
	require.NoError(t, err)

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	withLogin := base
	withLogin.LastLogin = &seen
	h2, err := StructuralHash(withLogin)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "last login must not affect the hash")

	locked := base
	locked.IsLocked = true
	h3, err := StructuralHash(locked)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestResolveField(t *testing.T) {
	pg := NewPostgreSQLPermissions()
	pg.RoleAttributes = NewStringSet("SUPERUSER", "LOGIN")
	pg.DatabaseGrants.Add("app", "CONNECT", "CREATE")
	rec := &AccountRecord{Username: "postgres", Kind: KindRole, IsSuperuser: true, Permissions: pg}

	v, st := ResolveField(rec, "role_attributes")
	require.Equal(t, FieldFound, st)
	assert.Equal(t, ValueSet, v.Kind)
	assert.True(t, StringSet(v.Items).Contains("SUPERUSER"))

	v, st = ResolveField(rec, "is_superuser")
	require.Equal(t, FieldFound, st)
	assert.Equal(t, "true", v.Text)

	_, st = ResolveField(rec, "no_such_field")
	assert.Equal(t, FieldMissing, st)

	rec.Errors = map[string]string{"member_of": "permission denied"}
	_, st = ResolveField(rec, "member_of")
	assert.Equal(t, FieldUnavailable, st)
}

func TestResolveField_OracleKeyed(t *testing.T) {
	ora := NewOraclePermissions()
	ora.TablespaceQuotas["USERS"] = QuotaUnlimited
	ora.ObjectPrivileges = []ObjectPrivilege{{Owner: "APP", Object: "ORDERS", Privilege: "SELECT"}}
	rec := &AccountRecord{Username: "APP", Permissions: ora}

	v, st := ResolveField(rec, "tablespace_quotas.USERS")
	require.Equal(t, FieldFound, st)
	assert.Equal(t, QuotaUnlimited, v.Text)

	v, st = ResolveField(rec, "object_privileges.APP.ORDERS")
	require.Equal(t, FieldFound, st)
	assert.True(t, v.CaseSensitive)
	assert.Equal(t, []string{"SELECT"}, v.Items)

	_, st = ResolveField(rec, "object_privileges.app.orders")
	assert.Equal(t, FieldMissing, st)
}
