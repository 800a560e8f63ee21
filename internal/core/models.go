package core

import (
	"time"
)

// Vendor identifies the database engine behind an Instance.
type Vendor string

const (
	VendorMySQL      Vendor = "mysql"
	VendorPostgreSQL Vendor = "postgresql"
	VendorSQLServer  Vendor = "sqlserver"
	VendorOracle     Vendor = "oracle"
)

// Vendors lists every supported vendor tag.
var Vendors = []Vendor{VendorMySQL, VendorPostgreSQL, VendorSQLServer, VendorOracle}

func (v Vendor) Valid() bool {
	switch v {
	case VendorMySQL, VendorPostgreSQL, VendorSQLServer, VendorOracle:
		return true
	}
	return false
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type ApiKey struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	KeyPrefix   string     `json:"key_prefix"`
	KeyHash     string     `json:"-"`
	Description string     `json:"description"`
	IsActive    bool       `json:"is_active"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Credential holds the login used to reach one or more instances.
// PasswordEnc is AES-GCM ciphertext and never leaves the process in clear.
type Credential struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Username    string    `json:"username"`
	PasswordEnc string    `json:"-"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Instance is one managed database server.
type Instance struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name" validate:"required,max=128"`
	Vendor       Vendor     `json:"vendor" validate:"required,oneof=mysql postgresql sqlserver oracle"`
	Host         string     `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port         int        `json:"port" validate:"required,min=1,max=65535"`
	DatabaseName string     `json:"database_name"`
	Environment  string     `json:"environment" validate:"omitempty,oneof=production staging development test"`
	Description  string     `json:"description"`
	CredentialID *int64     `json:"credential_id"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// DefaultPort returns the conventional listener port for the vendor.
func (v Vendor) DefaultPort() int {
	switch v {
	case VendorMySQL:
		return 3306
	case VendorPostgreSQL:
		return 5432
	case VendorSQLServer:
		return 1433
	case VendorOracle:
		return 1521
	}
	return 0
}

type AccountKind string

const (
	KindLogin AccountKind = "login"
	KindUser  AccountKind = "user"
	KindRole  AccountKind = "role"
)

// AccountKey identifies an account within one instance. MySQL accounts with
// the same name and different hosts are distinct.
type AccountKey struct {
	Username      string
	HostQualifier string
}

func (k AccountKey) String() string {
	if k.HostQualifier == "" {
		return k.Username
	}
	return k.Username + "@" + k.HostQualifier
}

// Less orders keys by username, then host qualifier.
func (k AccountKey) Less(o AccountKey) bool {
	if k.Username != o.Username {
		return k.Username < o.Username
	}
	return k.HostQualifier < o.HostQualifier
}

// AccountRecord is one account as collected from the remote side.
type AccountRecord struct {
	Username        string            `json:"username"`
	HostQualifier   string            `json:"host_qualifier"`
	Kind            AccountKind       `json:"account_kind"`
	IsSuperuser     bool              `json:"is_superuser"`
	CanGrant        bool              `json:"can_grant"`
	IsLocked        bool              `json:"is_locked"`
	PasswordExpired bool              `json:"password_expired"`
	ValidUntil      *time.Time        `json:"valid_until,omitempty"`
	LastLogin       *time.Time        `json:"last_login,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Permissions     Permissions       `json:"-"`
	// Errors maps a permission category to the reason it could not be read.
	Errors map[string]string `json:"errors,omitempty"`
}

func (r AccountRecord) Key() AccountKey {
	return AccountKey{Username: r.Username, HostQualifier: r.HostQualifier}
}

// Account is the stored current state of one remote account.
type Account struct {
	ID         int64  `json:"id"`
	InstanceID int64  `json:"instance_id"`
	Vendor     Vendor `json:"vendor"`
	AccountRecord
	Hash         string     `json:"-"`
	LastSyncTime time.Time  `json:"last_sync_time"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

type SyncKind string

const (
	SyncManualSingle  SyncKind = "manual_single"
	SyncManualBatch   SyncKind = "manual_batch"
	SyncManualTask    SyncKind = "manual_task"
	SyncScheduledTask SyncKind = "scheduled_task"
)

type SyncCategory string

const (
	CategoryAccount  SyncCategory = "account"
	CategoryCapacity SyncCategory = "capacity"
	CategoryConfig   SyncCategory = "config"
	CategoryOther    SyncCategory = "other"
)

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// SyncSession groups the per-instance syncs launched by one request.
type SyncSession struct {
	ID                  string        `json:"id"`
	Kind                SyncKind      `json:"sync_kind"`
	Category            SyncCategory  `json:"category"`
	Status              SessionStatus `json:"status"`
	StartedAt           time.Time     `json:"started_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	TotalInstances      int           `json:"total_instances"`
	SuccessfulInstances int           `json:"successful_instances"`
	FailedInstances     int           `json:"failed_instances"`
	CancelledInstances  int           `json:"cancelled_instances"`
	CreatedBy           string        `json:"created_by"`
}

// Progress is the share of instance records that reached a terminal state.
func (s SyncSession) Progress() float64 {
	if s.TotalInstances == 0 {
		return 1
	}
	done := s.SuccessfulInstances + s.FailedInstances + s.CancelledInstances
	return float64(done) / float64(s.TotalInstances)
}

type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordRunning   RecordStatus = "running"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
	RecordCancelled RecordStatus = "cancelled"
)

func (s RecordStatus) Terminal() bool {
	return s == RecordCompleted || s == RecordFailed || s == RecordCancelled
}

// ChangeCounts are the outcome of applying one change list.
type ChangeCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

func (c ChangeCounts) Synced() int {
	return c.Created + c.Updated + c.Unchanged
}

func (c *ChangeCounts) Add(o ChangeCounts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Deleted += o.Deleted
	c.Unchanged += o.Unchanged
}

// RecordError describes a single account that could not be persisted.
type RecordError struct {
	Account string `json:"account"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// RecordDetails is the free-form part of a sync instance record.
type RecordDetails struct {
	Partial       map[string]string `json:"partial,omitempty"`
	RecordErrors  []RecordError     `json:"record_errors,omitempty"`
	Unchanged     int               `json:"unchanged"`
	FailedBatches int               `json:"failed_batches,omitempty"`
	DurationMs    int64             `json:"duration_ms,omitempty"`
}

// SyncRecord is the per-instance child of a SyncSession.
type SyncRecord struct {
	ID           int64         `json:"id"`
	SessionID    string        `json:"session_id"`
	InstanceID   int64         `json:"instance_id"`
	InstanceName string        `json:"instance_name"`
	Status       RecordStatus  `json:"status"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Synced       int           `json:"synced"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Deleted      int           `json:"deleted"`
	ErrorCode    Code          `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Details      RecordDetails `json:"details"`
}

// InstanceLock marks an instance as being synced by one session.
type InstanceLock struct {
	InstanceID int64     `json:"instance_id"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

type Classification struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name" validate:"required,max=64"`
	Description string    `json:"description"`
	RiskLevel   RiskLevel `json:"risk_level" validate:"required,oneof=high medium low"`
	Color       string    `json:"color" validate:"omitempty,max=32"`
	Priority    int       `json:"priority" validate:"min=0,max=1000"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ClassificationRule struct {
	ID               int64     `json:"id"`
	ClassificationID int64     `json:"classification_id" validate:"required"`
	Name             string    `json:"name" validate:"required,max=128"`
	Vendor           Vendor    `json:"vendor" validate:"required,oneof=mysql postgresql sqlserver oracle"`
	Expression       Expr      `json:"expression"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type AssignmentType string

const (
	AssignmentAuto   AssignmentType = "auto"
	AssignmentManual AssignmentType = "manual"
)

type Assignment struct {
	ID               int64          `json:"id"`
	AccountID        int64          `json:"account_id"`
	ClassificationID int64          `json:"classification_id"`
	AssignmentType   AssignmentType `json:"assignment_type"`
	Confidence       float64        `json:"confidence"`
	BatchID          string         `json:"batch_id,omitempty"`
	AssignedBy       string         `json:"assigned_by,omitempty"`
	IsActive         bool           `json:"is_active"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchFailure is one account the classifier could not evaluate.
type BatchFailure struct {
	AccountID int64  `json:"account_id"`
	Reason    string `json:"reason"`
}

type BatchDetails struct {
	Notes    []string       `json:"notes,omitempty"`
	Failures []BatchFailure `json:"failures,omitempty"`
	Rules    int            `json:"rules"`
	Assigned int            `json:"assigned"`
	Revoked  int            `json:"revoked"`
}

// ClassificationBatch groups one run of the classification engine.
type ClassificationBatch struct {
	ID              string       `json:"id"`
	Status          BatchStatus  `json:"status"`
	Scope           string       `json:"scope"`
	TotalAccounts   int          `json:"total_accounts"`
	MatchedAccounts int          `json:"matched_accounts"`
	FailedAccounts  int          `json:"failed_accounts"`
	Details         BatchDetails `json:"details"`
	CreatedBy       string       `json:"created_by"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// ScheduledJob is a persisted scheduler entry.
type ScheduledJob struct {
	ID         string     `json:"id" validate:"required,max=64"`
	Name       string     `json:"name"`
	Trigger    string     `json:"trigger" validate:"required"`
	Action     string     `json:"action" validate:"required"`
	Snippet    string     `json:"snippet,omitempty"`
	Paused     bool       `json:"paused"`
	IsBuiltin  bool       `json:"is_builtin"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type AuditLog struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message"`
}
