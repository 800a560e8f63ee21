package collector

import (
	"testing"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrants(t *testing.T) {
	lines := []string{
		"GRANT SELECT, INSERT, UPDATE (`price`, `qty`) ON *.* TO 'app'@'%' WITH GRANT OPTION",
		"GRANT ALL PRIVILEGES ON `shop`.* TO 'app'@'%'",
		"GRANT SELECT ON `shop`.`orders` TO 'app'@'%'",
		"GRANT `reporting`@`%` TO `app`@`%`",
		"GRANT PROXY ON ''@'' TO 'app'@'%' WITH GRANT OPTION",
	}
	p, err := ParseGrants(lines)
	require.NoError(t, err)
	assert.Equal(t, core.StringSet{"GRANT OPTION", "INSERT", "SELECT", "UPDATE"}, p.GlobalPrivileges)
	assert.Equal(t, core.SetMap{"shop": {"ALL PRIVILEGES"}}, p.DatabasePrivileges)

	_, err = ParseGrants([]string{"REVOKE ALL ON *.* FROM 'x'@'%'"})
	assert.Error(t, err)
}

func TestGrantsRoundTrip(t *testing.T) {
	perms := []*core.MySQLPermissions{
		{
			GlobalPrivileges:   core.NewStringSet("SELECT", "PROCESS", "GRANT OPTION"),
			DatabasePrivileges: core.SetMap{"db1": {"SELECT"}, "we`ird": {"INSERT", "DELETE"}},
		},
		{
			GlobalPrivileges:   core.StringSet{},
			DatabasePrivileges: core.SetMap{"db1": core.NewStringSet("SELECT", "GRANT OPTION")},
		},
		core.NewMySQLPermissions(),
	}
	key := core.AccountKey{Username: "o'brien", HostQualifier: "10.0.0.%"}
	for _, want := range perms {
		lines := EmitGrants(key, want)
		got, err := ParseGrants(lines)
		require.NoError(t, err, "%v", lines)
		assert.Equal(t, want.Canonical(), got.Canonical(), "%v", lines)
	}
}

func TestEmitGrantsUsage(t *testing.T) {
	lines := EmitGrants(core.AccountKey{Username: "ro", HostQualifier: "%"}, core.NewMySQLPermissions())
	assert.Equal(t, []string{"GRANT USAGE ON *.* TO 'ro'@'%'"}, lines)
}

func TestParseGrantee(t *testing.T) {
	k, ok := parseGrantee("'alice'@'%'")
	require.True(t, ok)
	assert.Equal(t, core.AccountKey{Username: "alice", HostQualifier: "%"}, k)

	k, ok = parseGrantee("'o''brien'@'10.0.0.5'")
	require.True(t, ok)
	assert.Equal(t, "o'brien", k.Username)

	_, ok = parseGrantee("alice@%")
	assert.False(t, ok)
}
