package core

import (
	"context"
	"time"
)

// UserRepository defines storage operations for operators
type UserRepository interface {
	CreateUser(username, passwordHash string) (*User, error)
	GetUserByUsername(username string) (*User, error)
	GetByID(id int64) (*User, error)
	GetAll() ([]User, error)
	Update(user *User) error
	Delete(id int64) error
	CountUsers() (int, error)
}

// ApiKeyRepository defines storage operations for API keys
type ApiKeyRepository interface {
	Create(key *ApiKey) error
	List() ([]ApiKey, error)
	GetByHash(hash string) (*ApiKey, error)
	Revoke(id int64) error
	UpdateLastUsed(id int64) error
}

// CredentialRepository defines storage operations for target credentials
type CredentialRepository interface {
	Create(ctx context.Context, c *Credential) error
	GetByID(ctx context.Context, id int64) (*Credential, error)
	GetAll(ctx context.Context) ([]Credential, error)
	Update(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, id int64) error
}

// InstanceRepository defines storage operations for managed instances
type InstanceRepository interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id int64) (*Instance, error)
	GetByName(ctx context.Context, name string) (*Instance, error)
	GetAll(ctx context.Context, includeDeleted bool) ([]Instance, error)
	ListActive(ctx context.Context) ([]Instance, error)
	Update(ctx context.Context, inst *Instance) error
	SoftDelete(ctx context.Context, id int64) error
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	InstanceID int64
	AccountIDs []int64
	Vendor     Vendor
	Limit      int
	Offset     int
}

// AccountRepository is the account store. Reads are open to every
// component; ApplyBatch is the only write path.
type AccountRepository interface {
	ListActiveByInstance(ctx context.Context, instanceID int64) ([]Account, error)
	ListActive(ctx context.Context, f AccountFilter) ([]Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	ListDeletedIDs(ctx context.Context, instanceID int64) ([]int64, error)
	ApplyBatch(ctx context.Context, instanceID int64, vendor Vendor, batch ChangeList, now time.Time) (ChangeCounts, error)
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	Status   SessionStatus
	Kind     SyncKind
	Category SyncCategory
	Limit    int
}

// SessionRepository persists sync sessions and their instance records.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *SyncSession, instances []Instance) ([]SyncRecord, error)
	GetSession(ctx context.Context, id string) (*SyncSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]SyncSession, error)
	ListRecords(ctx context.Context, sessionID string) ([]SyncRecord, error)
	GetRecord(ctx context.Context, sessionID string, instanceID int64) (*SyncRecord, error)
	UpdateRecord(ctx context.Context, r *SyncRecord) error
	IncrementCounters(ctx context.Context, sessionID string, successful, failed, cancelled int) error
	SetSessionStatus(ctx context.Context, id string, from, to SessionStatus, completedAt *time.Time) (bool, error)
	FinalizeSession(ctx context.Context, id string, now time.Time) (*SyncSession, error)
	HasActiveRecords(ctx context.Context, instanceIDs []int64) (bool, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockRepository persists instance locks.
type LockRepository interface {
	Acquire(ctx context.Context, instanceID int64, sessionID string, now time.Time, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, instanceID int64, sessionID string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, instanceID int64, sessionID string) (bool, error)
	ReapExpired(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, instanceID int64) (*InstanceLock, error)
	List(ctx context.Context) ([]InstanceLock, error)
}

// ClassificationRepository persists classifications and their rules.
type ClassificationRepository interface {
	Create(ctx context.Context, c *Classification) error
	GetByID(ctx context.Context, id int64) (*Classification, error)
	GetByName(ctx context.Context, name string) (*Classification, error)
	GetAll(ctx context.Context) ([]Classification, error)
	Update(ctx context.Context, c *Classification) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)

	CreateRule(ctx context.Context, r *ClassificationRule) error
	GetRule(ctx context.Context, id int64) (*ClassificationRule, error)
	ListRules(ctx context.Context, vendor Vendor) ([]ClassificationRule, error)
	UpdateRule(ctx context.Context, r *ClassificationRule) error
	DeleteRule(ctx context.Context, id int64) error
}

// AssignmentRepository persists classification assignments and batches.
type AssignmentRepository interface {
	CreateBatch(ctx context.Context, b *ClassificationBatch) error
	FinishBatch(ctx context.Context, b *ClassificationBatch) error
	GetBatch(ctx context.Context, id string) (*ClassificationBatch, error)
	ListBatches(ctx context.Context, limit int) ([]ClassificationBatch, error)

	ActiveByAccounts(ctx context.Context, accountIDs []int64) (map[int64][]Assignment, error)
	Upsert(ctx context.Context, a *Assignment) error
	Deactivate(ctx context.Context, ids []int64) error
	DeactivateForAccounts(ctx context.Context, accountIDs []int64, t AssignmentType) (int64, error)
	ListActive(ctx context.Context, classificationID int64) ([]Assignment, error)
}

// JobRepository persists scheduler entries.
type JobRepository interface {
	Save(ctx context.Context, j *ScheduledJob) error
	Get(ctx context.Context, id string) (*ScheduledJob, error)
	GetAll(ctx context.Context) ([]ScheduledJob, error)
	SetPaused(ctx context.Context, id string, paused bool) error
	RecordRun(ctx context.Context, id string, at time.Time, status, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// AuditRepository defines storage operations for audit logs
type AuditRepository interface {
	Create(log *AuditLog) error
	GetRecent(limit int) ([]AuditLog, error)
	DeleteBefore(cutoff time.Time) (int64, error)
}
