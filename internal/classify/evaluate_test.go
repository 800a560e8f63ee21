package classify

import (
	"testing"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oracleApp() *core.AccountRecord {
	p := core.NewOraclePermissions()
	p.Roles = core.NewStringSet("CONNECT", "RESOURCE")
	p.SystemPrivileges = core.NewStringSet("CREATE SESSION")
	p.TablespaceQuotas["USERS"] = core.QuotaUnlimited
	p.TablespaceQuotas["DATA"] = "1048576"
	p.ObjectPrivileges = []core.ObjectPrivilege{{Owner: "HR", Object: "EMPLOYEES", Privilege: "SELECT"}}
	return &core.AccountRecord{Username: "APP", Kind: core.KindUser, Permissions: p}
}

func TestEvaluate(t *testing.T) {
	mysql := core.NewMySQLPermissions()
	mysql.GlobalPrivileges = core.NewStringSet("SELECT", "PROCESS")
	mysql.DatabasePrivileges.Add("db1", "SELECT")
	mysql.DatabasePrivileges.Add("db2", "INSERT")
	mysqlRec := &core.AccountRecord{Username: "alice", HostQualifier: "%", Permissions: mysql}

	tests := []struct {
		name string
		rec  *core.AccountRecord
		expr core.Expr
		want bool
	}{
		{"has any case-insensitive", mysqlRec, core.HasAny("global_privileges", "process"), true},
		{"has any none", mysqlRec, core.HasAny("global_privileges", "SUPER"), false},
		{"has all", mysqlRec, core.HasAll("global_privileges", "SELECT", "PROCESS"), true},
		{"has all partial", mysqlRec, core.HasAll("global_privileges", "SELECT", "SUPER"), false},
		{"map union", mysqlRec, core.HasAny("database_privileges", "INSERT"), true},
		{"map key", mysqlRec, core.HasAny("database_privileges.db1", "INSERT"), false},
		{"missing field", mysqlRec, core.HasAny("server_roles", "sysadmin"), false},
		{"missing key", mysqlRec, core.HasAny("database_privileges.db9", "SELECT"), false},
		{"set size", mysqlRec, core.GreaterThan("global_privileges", 1), true},
		{"flag", mysqlRec, core.Equals("is_superuser", "false"), true},
		{"not", mysqlRec, core.Not(core.HasAny("global_privileges", "SUPER")), true},
		{"and", mysqlRec, core.And(core.HasAny("global_privileges", "SELECT"), core.Equals("username", "ALICE")), true},
		{"or", mysqlRec, core.Or(core.HasAny("global_privileges", "SUPER"), core.HasAny("database_privileges", "SELECT")), true},

		{"quota unlimited", oracleApp(), core.Equals("tablespace_quotas.USERS", "UNLIMITED"), true},
		{"quota unlimited is huge", oracleApp(), core.GreaterThan("tablespace_quotas.USERS", 1e18), true},
		{"quota bytes", oracleApp(), core.GreaterThan("tablespace_quotas.DATA", 2e6), false},
		{"object key case-sensitive", oracleApp(), core.HasAny("object_privileges.hr.employees", "SELECT"), false},
		{"object key", oracleApp(), core.HasAny("object_privileges.HR.EMPLOYEES", "select"), false},
		{"object key exact", oracleApp(), core.HasAny("object_privileges.HR.EMPLOYEES", "SELECT"), true},
		{"member", oracleApp(), core.IsMember("roles", "connect"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Evaluate(tt.expr, tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Matched)
		})
	}
}

func TestEvaluateUnavailableCategory(t *testing.T) {
	rec := oracleApp()
	rec.Errors = map[string]string{"object_privileges": "ORA-00942"}

	out, err := Evaluate(core.HasAny("object_privileges", "SELECT"), rec)
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, []string{"object_privileges"}, out.Unavailable)

	// negation of an unknown stays unknown
	out, err = Evaluate(core.Not(core.HasAny("object_privileges", "DELETE")), rec)
	require.NoError(t, err)
	assert.False(t, out.Matched)

	// a known true branch decides an Or
	out, err = Evaluate(core.Or(core.HasAny("object_privileges", "DELETE"), core.IsMember("roles", "CONNECT")), rec)
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.Empty(t, out.Unavailable)

	// a known false branch decides an And
	out, err = Evaluate(core.And(core.HasAny("object_privileges", "DELETE"), core.IsMember("roles", "DBA")), rec)
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Empty(t, out.Unavailable)
}

func TestEvaluateRejectsUnknownOp(t *testing.T) {
	_, err := Evaluate(core.Expr{Op: "regex", Field: "roles"}, oracleApp())
	assert.True(t, core.IsCode(err, core.CodeValidation))
}
