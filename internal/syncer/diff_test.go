package syncer

import (
	"testing"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mysqlRec(user, host string, global ...string) core.AccountRecord {
	p := core.NewMySQLPermissions()
	p.GlobalPrivileges = core.NewStringSet(global...)
	return core.AccountRecord{Username: user, HostQualifier: host, Kind: core.KindUser, Permissions: p}
}

func stored(t *testing.T, id int64, rec core.AccountRecord) core.Account {
	t.Helper()
	h, err := core.StructuralHash(rec)
	require.NoError(t, err)
	return core.Account{ID: id, AccountRecord: rec, Hash: h}
}

func kinds(cl core.ChangeList) []string {
	out := make([]string, len(cl))
	for i, c := range cl {
		out[i] = string(c.Kind) + ":" + c.Key.String()
	}
	return out
}

func TestDiffOrdering(t *testing.T) {
	current := []core.Account{
		stored(t, 1, mysqlRec("zed", "%", "SELECT")),
		stored(t, 2, mysqlRec("carol", "%", "SELECT")),
		stored(t, 3, mysqlRec("dave", "%")),
		stored(t, 4, mysqlRec("amy", "%")),
	}
	snapshot := []core.AccountRecord{
		mysqlRec("bob", "10.0.0.5", "ALL PRIVILEGES"),
		mysqlRec("alice", "%", "SELECT"),
		mysqlRec("carol", "%", "SELECT", "INSERT"),
		mysqlRec("dave", "%"),
	}
	cl, err := Diff(current, snapshot)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"create:alice@%",
		"create:bob@10.0.0.5",
		"update:carol@%",
		"tombstone:amy@%",
		"tombstone:zed@%",
		"no_change:dave@%",
	}, kinds(cl))
	assert.Equal(t, core.ChangeCounts{Created: 2, Updated: 1, Deleted: 2, Unchanged: 1}, cl.Count())
	assert.Equal(t, int64(2), cl[2].Prev.ID)
}

func TestDiffKeepsMySQLHostsApart(t *testing.T) {
	current := []core.Account{stored(t, 1, mysqlRec("alice", "%"))}
	cl, err := Diff(current, []core.AccountRecord{mysqlRec("alice", "%"), mysqlRec("alice", "localhost")})
	require.NoError(t, err)
	assert.Equal(t, []string{"create:alice@localhost", "no_change:alice@%"}, kinds(cl))
}

func TestDiffHashIgnoresOrderAndLastLogin(t *testing.T) {
	prev := mysqlRec("app", "%", "SELECT", "INSERT")
	current := []core.Account{stored(t, 1, prev)}

	next := mysqlRec("app", "%")
	next.Permissions.(*core.MySQLPermissions).GlobalPrivileges = core.StringSet{"INSERT", "SELECT"}
	cl, err := Diff(current, []core.AccountRecord{next})
	require.NoError(t, err)
	assert.Equal(t, core.ChangeNoChange, cl[0].Kind)
}

func TestDiffErrorsChangeTriggerUpdate(t *testing.T) {
	current := []core.Account{stored(t, 1, mysqlRec("app", "%"))}
	next := mysqlRec("app", "%")
	next.Errors = map[string]string{"database_privileges": "denied"}
	cl, err := Diff(current, []core.AccountRecord{next})
	require.NoError(t, err)
	assert.Equal(t, core.ChangeUpdate, cl[0].Kind)
}

func TestDiffRejectsDuplicateKeys(t *testing.T) {
	_, err := Diff(nil, []core.AccountRecord{mysqlRec("a", "%"), mysqlRec("a", "%")})
	assert.Error(t, err)
}
