package collector

import (
	"testing"

	"dbinventory/internal/config"
	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestMatchLike(t *testing.T) {
	cases := []struct {
		pattern, s string
		fold       bool
		want       bool
	}{
		{"pg_%", "pg_monitor", false, true},
		{"pg_%", "pgadmin", false, false},
		{"pg_%", "PG_MONITOR", false, false},
		{"mysql.%", "mysql.sys", true, true},
		{"mysql.%", "mysqlXsys", true, false},
		{"##%##", "##MS_PolicyTsqlExecutionLogin##", true, true},
		{`NT SERVICE\%`, `NT SERVICE\SQLWriter`, true, true},
		{"APEX_%", "apex_040200", true, true},
		{"a_c", "abc", false, true},
		{"a_c", "abbc", false, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchLike(c.pattern, c.s, c.fold), "%q ~ %q", c.s, c.pattern)
	}
}

func TestPostgresRoleAlwaysKept(t *testing.T) {
	f := newAccountFilter(core.VendorPostgreSQL, config.DefaultFilterRules()[core.VendorPostgreSQL])
	assert.True(t, f.Keep("postgres"))
	assert.False(t, f.Keep("pg_monitor"))
	assert.False(t, f.Keep("rdsadmin"))
	assert.True(t, f.Keep("app"))
}

func TestIncludeUsersWin(t *testing.T) {
	f := newAccountFilter(core.VendorOracle, config.VendorFilter{
		ExcludeUsers:    []string{"SYSTEM"},
		ExcludePatterns: []string{"APEX_%"},
		IncludeUsers:    []string{"apex_public_user"},
	})
	assert.False(t, f.Keep("system"), "non-postgres vendors fold case")
	assert.True(t, f.Keep("APEX_PUBLIC_USER"))
	assert.False(t, f.Keep("APEX_040200"))
}
