package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedInstance(t *testing.T, db *sql.DB, name string, vendor core.Vendor) core.Instance {
	t.Helper()
	inst := core.Instance{Name: name, Vendor: vendor, Host: "db.local", Port: vendor.DefaultPort(), IsActive: true}
	require.NoError(t, NewInstanceRepo(db).Create(context.Background(), &inst))
	return inst
}

func mysqlRecord(user, host string, global ...string) *core.AccountRecord {
	p := core.NewMySQLPermissions()
	p.GlobalPrivileges = core.NewStringSet(global...)
	return &core.AccountRecord{Username: user, HostQualifier: host, Kind: core.KindUser, Permissions: p}
}

func TestMigrations_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, runMigrations(db))

	var version int
	require.NoError(t, db.QueryRow(`PRAGMA user_version`).Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestAccountRepo_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := seedInstance(t, db, "mysql-1", core.VendorMySQL)
	repo := NewAccountRepo(db)
	now := time.Now()

	counts, err := repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeCreate, Key: core.AccountKey{Username: "alice", HostQualifier: "%"}, Record: mysqlRecord("alice", "%", "SELECT")},
		{Kind: core.ChangeCreate, Key: core.AccountKey{Username: "alice", HostQualifier: "10.0.0.5"}, Record: mysqlRecord("alice", "10.0.0.5")},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, core.ChangeCounts{Created: 2}, counts)

	active, err := repo.ListActiveByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "%", active[0].HostQualifier)
	perms := active[0].Permissions.(*core.MySQLPermissions)
	assert.Equal(t, core.StringSet{"SELECT"}, perms.GlobalPrivileges)
	assert.NotEmpty(t, active[0].Hash)

	// tombstone, then the same user returns as a new row
	counts, err = repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeTombstone, Key: active[0].Key(), Prev: &active[0]},
	}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Deleted)

	counts, err = repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeCreate, Key: active[0].Key(), Record: mysqlRecord("alice", "%", "INSERT")},
	}, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Created)

	again, err := repo.ListActiveByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.NotEqual(t, active[0].ID, again[0].ID)

	deleted, err := repo.ListDeletedIDs(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{active[0].ID}, deleted)
}

func TestAccountRepo_ApplyBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := seedInstance(t, db, "mysql-1", core.VendorMySQL)
	repo := NewAccountRepo(db)

	_, err := repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeCreate, Key: core.AccountKey{Username: "bob"}, Record: mysqlRecord("bob", "")},
		{Kind: core.ChangeTombstone, Key: core.AccountKey{Username: "ghost"}},
	}, time.Now())
	require.Error(t, err)
	var ce *core.ChangeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.Change.Key.Username)

	active, err := repo.ListActiveByInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAccountRepo_NoChangeTouchesSyncTime(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := seedInstance(t, db, "mysql-1", core.VendorMySQL)
	repo := NewAccountRepo(db)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeCreate, Key: core.AccountKey{Username: "bob"}, Record: mysqlRecord("bob", "")},
	}, t0)
	require.NoError(t, err)
	rows, err := repo.ListActiveByInstance(ctx, inst.ID)
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	counts, err := repo.ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeNoChange, Key: rows[0].Key(), Prev: &rows[0]},
	}, t1)
	require.NoError(t, err)
	assert.Equal(t, core.ChangeCounts{Unchanged: 1}, counts)

	got, err := repo.GetByID(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.True(t, got.LastSyncTime.Equal(t1))
}

func TestLockRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepo(newTestDB(t))
	now := time.Now()

	ok, err := repo.Acquire(ctx, 1, "s1", now, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, 1, "s2", now, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := repo.Release(ctx, 1, "s2")
	require.NoError(t, err)
	assert.False(t, released)

	// expired lock is reaped on the next acquire
	ok, err = repo.Acquire(ctx, 1, "s2", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "s2", l.SessionID)

	// only the live holder can extend
	ok, err = repo.Extend(ctx, 1, "s1", now.Add(7*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Extend(ctx, 1, "s2", now.Add(7*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Extend(ctx, 1, "s2", now.Add(13*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "an expired lock cannot be revived")

	released, err = repo.Release(ctx, 1, "s2")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = repo.Get(ctx, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSessionRepo_Finalize(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedInstance(t, db, "a", core.VendorMySQL)
	b := seedInstance(t, db, "b", core.VendorPostgreSQL)
	repo := NewSessionRepo(db)

	s := &core.SyncSession{ID: "sess-1", Kind: core.SyncManualBatch, Category: core.CategoryAccount,
		Status: core.SessionRunning, StartedAt: time.Now(), CreatedBy: "user:admin"}
	records, err := repo.CreateSession(ctx, s, []core.Instance{a, b})
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, err = repo.CreateSession(ctx, &core.SyncSession{ID: "sess-1", Kind: core.SyncManualBatch, Category: core.CategoryAccount,
		Status: core.SessionRunning, StartedAt: time.Now()}, nil)
	require.Error(t, err)

	active, err := repo.HasActiveRecords(ctx, []int64{a.ID})
	require.NoError(t, err)
	assert.True(t, active)

	now := time.Now()
	records[0].Status, records[0].CompletedAt, records[0].Created = core.RecordCompleted, &now, 3
	records[1].Status, records[1].CompletedAt = core.RecordFailed, &now
	records[1].ErrorCode = core.CodeLocked
	records[1].Details.Partial = map[string]string{"member_of": "denied"}
	require.NoError(t, repo.UpdateRecord(ctx, &records[0]))
	require.NoError(t, repo.UpdateRecord(ctx, &records[1]))

	got, err := repo.FinalizeSession(ctx, "sess-1", now)
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, got.Status)
	assert.Equal(t, 2, got.TotalInstances)
	assert.Equal(t, 1, got.SuccessfulInstances)
	assert.Equal(t, 1, got.FailedInstances)
	assert.NotNil(t, got.CompletedAt)

	rec, err := repo.GetRecord(ctx, "sess-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CodeLocked, rec.ErrorCode)
	assert.Equal(t, "denied", rec.Details.Partial["member_of"])

	active, err = repo.HasActiveRecords(ctx, nil)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSessionRepo_CancelledIsKept(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedInstance(t, db, "a", core.VendorMySQL)
	repo := NewSessionRepo(db)

	records, err := repo.CreateSession(ctx, &core.SyncSession{ID: "s", Kind: core.SyncManualSingle, Category: core.CategoryAccount,
		Status: core.SessionRunning, StartedAt: time.Now()}, []core.Instance{a})
	require.NoError(t, err)
	records[0].Status = core.RecordRunning
	require.NoError(t, repo.UpdateRecord(ctx, &records[0]))

	ok, err := repo.SetSessionStatus(ctx, "s", core.SessionRunning, core.SessionCancelled, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetSessionStatus(ctx, "s", core.SessionRunning, core.SessionCancelled, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// the worker is still applying after the cancel
	busy, err := repo.HasActiveRecords(ctx, []int64{a.ID})
	require.NoError(t, err)
	assert.True(t, busy)

	now := time.Now()
	records[0].Status, records[0].CompletedAt = core.RecordCancelled, &now
	require.NoError(t, repo.UpdateRecord(ctx, &records[0]))
	busy, err = repo.HasActiveRecords(ctx, []int64{a.ID})
	require.NoError(t, err)
	assert.False(t, busy)

	got, err := repo.FinalizeSession(ctx, "s", time.Now())
	require.NoError(t, err)
	assert.Equal(t, core.SessionCancelled, got.Status)
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, core.SessionCompleted, AggregateStatus(0, 0, 0))
	assert.Equal(t, core.SessionCompleted, AggregateStatus(3, 0, 0))
	assert.Equal(t, core.SessionFailed, AggregateStatus(0, 2, 0))
	assert.Equal(t, core.SessionFailed, AggregateStatus(2, 1, 0))
	assert.Equal(t, core.SessionCancelled, AggregateStatus(0, 0, 2))
}

func TestAssignmentRepo_UpsertKeepsManual(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	inst := seedInstance(t, db, "m", core.VendorMySQL)
	_, err := NewAccountRepo(db).ApplyBatch(ctx, inst.ID, core.VendorMySQL, core.ChangeList{
		{Kind: core.ChangeCreate, Key: core.AccountKey{Username: "bob"}, Record: mysqlRecord("bob", "")},
	}, time.Now())
	require.NoError(t, err)
	accts, err := NewAccountRepo(db).ListActiveByInstance(ctx, inst.ID)
	require.NoError(t, err)

	cls := core.Classification{Name: "high", RiskLevel: core.RiskHigh, Priority: 100, IsActive: true}
	require.NoError(t, NewClassificationRepo(db).Create(ctx, &cls))

	repo := NewAssignmentRepo(db)
	manual := core.Assignment{AccountID: accts[0].ID, ClassificationID: cls.ID, AssignmentType: core.AssignmentManual, Confidence: 1, AssignedBy: "user:admin"}
	require.NoError(t, repo.Upsert(ctx, &manual))

	auto := core.Assignment{AccountID: accts[0].ID, ClassificationID: cls.ID, AssignmentType: core.AssignmentAuto, Confidence: 1, BatchID: "b1"}
	require.NoError(t, repo.Upsert(ctx, &auto))
	assert.Equal(t, manual.ID, auto.ID)
	assert.Equal(t, core.AssignmentManual, auto.AssignmentType)
	assert.Equal(t, "b1", auto.BatchID)
	assert.Equal(t, "user:admin", auto.AssignedBy)

	n, err := repo.DeactivateForAccounts(ctx, []int64{accts[0].ID}, core.AssignmentAuto)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := repo.ActiveByAccounts(ctx, []int64{accts[0].ID})
	require.NoError(t, err)
	assert.Len(t, active[accts[0].ID], 1)
}

func TestJobRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo(newTestDB(t))

	j := core.ScheduledJob{ID: "sync_accounts", Name: "Sync accounts", Trigger: "0 */6 * * *", Action: "sync_accounts", IsBuiltin: true}
	require.NoError(t, repo.Save(ctx, &j))
	require.NoError(t, repo.SetPaused(ctx, "sync_accounts", true))
	require.NoError(t, repo.RecordRun(ctx, "sync_accounts", time.Now(), "ok", ""))

	got, err := repo.Get(ctx, "sync_accounts")
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.Equal(t, "ok", got.LastStatus)
	assert.NotNil(t, got.LastRunAt)

	assert.ErrorIs(t, repo.SetPaused(ctx, "missing", true), core.ErrNotFound)
}
