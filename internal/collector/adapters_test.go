package collector

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"dbinventory/internal/config"
	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestAssembleMySQL(t *testing.T) {
	raw := &mysqlRaw{
		Users: []mysqlUser{
			{User: "bob", Host: "10.0.0.5", Locked: "N", Expired: "N", Plugin: "caching_sha2_password"},
			{User: "alice", Host: "%", Locked: "Y", Expired: "N"},
			{User: "alice", Host: "localhost", Locked: "N", Expired: "Y"},
		},
		Global: []mysqlPriv{
			{Grantee: "'bob'@'10.0.0.5'", Privilege: "SELECT", Grantable: "YES"},
			{Grantee: "'bob'@'10.0.0.5'", Privilege: "SUPER", Grantable: "YES"},
			{Grantee: "'alice'@'%'", Privilege: "USAGE", Grantable: "NO"},
		},
		Schema: []mysqlPriv{
			{Grantee: "'alice'@'%'", Schema: "db1", Privilege: "SELECT", Grantable: "NO"},
		},
	}
	recs := assembleMySQL(raw)
	require.Len(t, recs, 3)
	byKey := map[string]core.AccountRecord{}
	for _, r := range recs {
		byKey[r.Key().String()] = r
	}

	bob := byKey["bob@10.0.0.5"]
	assert.True(t, bob.IsSuperuser)
	assert.True(t, bob.CanGrant)
	assert.Equal(t, "caching_sha2_password", bob.Attributes["plugin"])
	assert.Equal(t, core.StringSet{"GRANT OPTION", "SELECT", "SUPER"}, bob.Permissions.(*core.MySQLPermissions).GlobalPrivileges)

	alice := byKey["alice@%"]
	assert.True(t, alice.IsLocked)
	assert.False(t, alice.IsSuperuser)
	ap := alice.Permissions.(*core.MySQLPermissions)
	assert.Empty(t, ap.GlobalPrivileges)
	assert.Equal(t, core.SetMap{"db1": {"SELECT"}}, ap.DatabasePrivileges)

	local := byKey["alice@localhost"]
	assert.True(t, local.PasswordExpired)
	assert.Empty(t, local.Permissions.(*core.MySQLPermissions).DatabasePrivileges, "hosts are distinct accounts")
}

func TestAssembleMySQLFromShowGrants(t *testing.T) {
	key := core.AccountKey{Username: "app", HostQualifier: "%"}
	raw := &mysqlRaw{
		Users:  []mysqlUser{{User: "app", Host: "%"}},
		Grants: map[core.AccountKey][]string{key: {"GRANT SELECT ON `shop`.* TO 'app'@'%' WITH GRANT OPTION"}},
	}
	recs := assembleMySQL(raw)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].CanGrant)
	assert.Equal(t, core.SetMap{"shop": {"GRANT OPTION", "SELECT"}}, recs[0].Permissions.(*core.MySQLPermissions).DatabasePrivileges)
}

func TestAssemblePostgres(t *testing.T) {
	raw := &pgRaw{
		Roles: []pgRole{
			{Name: "postgres", Super: true, Inherit: true, CreateRole: true, CreateDB: true, CanLogin: true, Replication: true, BypassRLS: true, ConnLimit: -1},
			{Name: "app", Inherit: true, CanLogin: true, ConnLimit: -1},
			{Name: "readers", Inherit: true, ConnLimit: -1},
			{Name: "pg_monitor", ConnLimit: -1},
		},
		Members: []pgMembership{{Member: "app", Roles: []string{"readers", "pg_monitor"}}},
		Databases: []pgObjectPrivs{
			{Role: "app", Object: "shop", Privs: []string{"CONNECT", "TEMPORARY"}},
			{Role: "app", Object: "crm", Privs: []string{"CONNECT", "CREATE"}},
			{Role: "readers", Object: "crm", Privs: nil},
		},
		Tablespaces: []pgObjectPrivs{{Role: "app", Object: "fast", Privs: []string{"CREATE"}}},
	}
	snap := finish(assemblePostgres(raw), newAccountFilter(core.VendorPostgreSQL, config.DefaultFilterRules()[core.VendorPostgreSQL]), nil)

	names := []string{}
	for _, r := range snap.Records {
		names = append(names, r.Username)
	}
	assert.Equal(t, []string{"app", "postgres", "readers"}, names)

	pg := snap.Records[1]
	assert.True(t, pg.IsSuperuser)
	assert.Equal(t, core.KindLogin, pg.Kind)
	assert.True(t, pg.Permissions.(*core.PostgreSQLPermissions).RoleAttributes.Contains("SUPERUSER"))

	app := snap.Records[0].Permissions.(*core.PostgreSQLPermissions)
	assert.Equal(t, core.StringSet{"pg_monitor", "readers"}, app.MemberOf)
	assert.Equal(t, core.StringSet{"CONNECT", "CREATE", "TEMPORARY"}, app.DatabasePrivileges)
	assert.Equal(t, core.StringSet{"CONNECT", "TEMPORARY"}, app.DatabaseGrants["shop"])
	assert.Equal(t, core.StringSet{"CREATE"}, app.TablespacePrivileges)

	assert.Equal(t, core.KindRole, snap.Records[2].Kind)
}

func TestAssembleSQLServer(t *testing.T) {
	raw := &mssqlRaw{
		Logins: []mssqlLogin{
			{Name: "appuser", TypeDesc: "SQL_LOGIN", DefaultDB: "master"},
			{Name: "reporter", TypeDesc: "SQL_LOGIN", Disabled: true},
		},
		ServerRoles: []mssqlGrant{{Login: "appuser", Name: "sysadmin"}},
		ServerPerms: []mssqlGrant{
			{Login: "appuser", Name: "CONNECT SQL"},
			{Login: "reporter", Name: "VIEW SERVER STATE", WithGrant: true},
		},
		DBEntries: []mssqlDBEntry{
			{Database: "sales", Kind: "role", Login: "reporter", Name: "db_datareader"},
			{Database: "sales", Kind: "perm", Login: "reporter", Name: "CONNECT"},
			{Database: "hr", Kind: "role", Login: "ghost", Name: "db_owner"},
		},
	}
	recs := assembleSQLServer(raw)
	require.Len(t, recs, 2)

	app := recs[0]
	assert.True(t, app.IsSuperuser)
	assert.True(t, app.CanGrant)
	assert.Equal(t, core.StringSet{"sysadmin"}, app.Permissions.(*core.SQLServerPermissions).ServerRoles)
	assert.Equal(t, "master", app.Attributes["default_database"])

	rep := recs[1]
	assert.False(t, rep.IsSuperuser)
	assert.True(t, rep.IsLocked)
	assert.True(t, rep.CanGrant)
	rp := rep.Permissions.(*core.SQLServerPermissions)
	assert.Equal(t, core.SetMap{"sales": {"db_datareader"}}, rp.DatabaseRoles)
	assert.Equal(t, core.SetMap{"sales": {"CONNECT"}}, rp.DatabasePermissions)
}

func TestAssembleOracle(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := &oraRaw{
		Users: []oraUser{
			{Username: "APP", Status: "OPEN", DefaultTS: "USERS", ExpiryDate: &expiry},
			{Username: "OPS", Status: "EXPIRED & LOCKED"},
			{Username: "SEC", Status: "OPEN"},
			{Username: "SYSOP", Status: "OPEN"},
		},
		Roles: []oraGrant{{Grantee: "OPS", Name: "DBA", Admin: true}, {Grantee: "APP", Name: "CONNECT"}},
		SysPrivs: []oraGrant{
			{Grantee: "APP", Name: "CREATE SESSION"},
			{Grantee: "SEC", Name: "GRANT ANY ROLE"},
			{Grantee: "SEC", Name: "ALTER USER"},
			{Grantee: "SYSOP", Name: "SYSDBA"},
		},
		Quotas: []oraQuota{
			{Username: "APP", Tablespace: "USERS", MaxBytes: -1},
			{Username: "APP", Tablespace: "DATA", MaxBytes: 104857600},
		},
		TabPrivs: []oraTabPriv{
			{Grantee: "APP", Owner: "HR", Object: "EMP", Privilege: "SELECT"},
			{Grantee: "APP", Owner: "HR", Object: "DEPT", Privilege: "SELECT"},
		},
	}
	recs := assembleOracle(raw)
	require.Len(t, recs, 4)

	app := recs[0]
	ap := app.Permissions.(*core.OraclePermissions)
	assert.Equal(t, map[string]string{"USERS": "UNLIMITED", "DATA": "104857600"}, ap.TablespaceQuotas)
	assert.False(t, app.IsSuperuser)
	assert.Equal(t, &expiry, app.ValidUntil)
	v, state := core.ResolveField(&app, "tablespace_quotas.USERS")
	assert.Equal(t, core.FieldFound, state)
	assert.Equal(t, "UNLIMITED", v.Text)

	ops := recs[1]
	assert.True(t, ops.IsSuperuser)
	assert.True(t, ops.CanGrant)
	assert.True(t, ops.IsLocked)
	assert.True(t, ops.PasswordExpired)

	// grant-any rights allow granting but do not make a superuser
	sec := recs[2]
	assert.False(t, sec.IsSuperuser)
	assert.True(t, sec.CanGrant)

	sysop := recs[3]
	assert.True(t, sysop.IsSuperuser)
	assert.False(t, sysop.CanGrant)
}

func TestFinishMarksPartialCategories(t *testing.T) {
	recs := []core.AccountRecord{
		{Username: "b", Permissions: core.NewOraclePermissions()},
		{Username: "a", Permissions: core.NewOraclePermissions()},
	}
	snap := finish(recs, nil, map[string]string{"object_privileges": "ORA-00942"})
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "a", snap.Records[0].Username)
	for _, r := range snap.Records {
		assert.Equal(t, "ORA-00942", r.Errors["object_privileges"])
		_, state := core.ResolveField(&r, "object_privileges")
		assert.Equal(t, core.FieldUnavailable, state)
	}
}

// mysqlCatalog builds a SQLite database shaped like the MySQL catalogs the
// adapter reads. ATTACH is per connection, so the pool is pinned to one.
func mysqlCatalog(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`ATTACH DATABASE ':memory:' AS mysql`,
		`ATTACH DATABASE ':memory:' AS information_schema`,
		`CREATE TABLE mysql.user (User TEXT, Host TEXT, account_locked TEXT, password_expired TEXT, plugin TEXT, password_last_changed TIMESTAMP)`,
		`CREATE TABLE information_schema.USER_PRIVILEGES (GRANTEE TEXT, PRIVILEGE_TYPE TEXT, IS_GRANTABLE TEXT)`,
		`CREATE TABLE information_schema.SCHEMA_PRIVILEGES (GRANTEE TEXT, TABLE_SCHEMA TEXT, PRIVILEGE_TYPE TEXT, IS_GRANTABLE TEXT)`,
		`INSERT INTO mysql.user VALUES ('alice', '%', 'N', 'N', 'mysql_native_password', NULL),
			('bob', '10.0.0.5', 'N', 'N', 'mysql_native_password', NULL),
			('mysql.sys', 'localhost', 'Y', 'N', 'caching_sha2_password', NULL)`,
		`INSERT INTO information_schema.USER_PRIVILEGES VALUES ('''alice''@''%''', 'USAGE', 'NO'),
			('''bob''@''10.0.0.5''', 'SELECT', 'NO'), ('''bob''@''10.0.0.5''', 'SUPER', 'NO'),
			('''bob''@''10.0.0.5''', 'SHUTDOWN', 'NO')`,
		`INSERT INTO information_schema.SCHEMA_PRIVILEGES VALUES ('''alice''@''%''', 'db1', 'SELECT', 'NO')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return db
}

func TestCollectMySQLEndToEnd(t *testing.T) {
	db := mysqlCatalog(t)
	c := New(Options{QueryTimeout: 5 * time.Second})

	snap, err := c.Collect(context.Background(), db, core.Instance{Name: "mysql-test", Vendor: core.VendorMySQL})
	require.NoError(t, err)
	require.Len(t, snap.Records, 2, "mysql.sys is filtered")
	assert.Empty(t, snap.Partial)

	assert.Equal(t, core.AccountKey{Username: "alice", HostQualifier: "%"}, snap.Records[0].Key())
	assert.Equal(t, core.SetMap{"db1": {"SELECT"}}, snap.Records[0].Permissions.(*core.MySQLPermissions).DatabasePrivileges)

	bob := snap.Records[1]
	assert.Equal(t, core.AccountKey{Username: "bob", HostQualifier: "10.0.0.5"}, bob.Key())
	assert.True(t, bob.IsSuperuser)
	assert.Equal(t, core.StringSet{"SELECT", "SHUTDOWN", "SUPER"}, bob.Permissions.(*core.MySQLPermissions).GlobalPrivileges)
}

func TestCollectRejectsUnknownVendor(t *testing.T) {
	_, err := New(Options{}).Collect(context.Background(), nil, core.Instance{Vendor: "db2"})
	assert.True(t, core.IsCode(err, core.CodeValidation))
}

func TestCollectMissingCatalogIsCollectError(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(Options{}).Collect(context.Background(), db, core.Instance{Vendor: core.VendorOracle})
	assert.True(t, core.IsCode(err, core.CodeCollect), "%v", err)
}
