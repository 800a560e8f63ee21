package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SyncWatcher reports whether a sync is still writing accounts of the given
// instances. An empty list means any instance.
type SyncWatcher interface {
	SyncInProgress(ctx context.Context, instanceIDs []int64) (bool, error)
}

// Scope selects the accounts of one run. The zero value is every active
// account.
type Scope struct {
	InstanceID int64   `json:"instance_id,omitempty"`
	AccountIDs []int64 `json:"account_ids,omitempty"`
}

func (s Scope) String() string {
	switch {
	case s.InstanceID > 0:
		return "instance:" + strconv.FormatInt(s.InstanceID, 10)
	case len(s.AccountIDs) > 0:
		ids := make([]string, len(s.AccountIDs))
		for i, id := range s.AccountIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return "accounts:" + strings.Join(ids, ",")
	}
	return "all"
}

type Options struct {
	// PollInterval is how often a run re-checks a running sync.
	PollInterval time.Duration
	// WaitTimeout bounds the wait for running syncs; zero waits for ctx.
	WaitTimeout time.Duration
}

// Engine evaluates rules over accounts and maintains auto assignments.
type Engine struct {
	rules       *RuleStore
	accounts    core.AccountRepository
	assignments core.AssignmentRepository
	syncs       SyncWatcher
	opts        Options
	now         func() time.Time
	log         zerolog.Logger
}

func NewEngine(rules *RuleStore, accounts core.AccountRepository, assignments core.AssignmentRepository, syncs SyncWatcher, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Engine{
		rules:       rules,
		accounts:    accounts,
		assignments: assignments,
		syncs:       syncs,
		opts:        opts,
		now:         time.Now,
		log:         logger.With("classify"),
	}
}

// Classify runs one batch over scope and returns the closed batch.
func (e *Engine) Classify(ctx context.Context, scope Scope, actor string) (*core.ClassificationBatch, error) {
	if err := e.waitForSync(ctx, scope); err != nil {
		return nil, err
	}

	b := &core.ClassificationBatch{
		ID:        uuid.NewString(),
		Status:    core.BatchRunning,
		Scope:     scope.String(),
		CreatedBy: actor,
		StartedAt: e.now().UTC(),
	}
	if err := e.assignments.CreateBatch(ctx, b); err != nil {
		return nil, core.E(core.CodePersist, "classify.open", err)
	}
	log := e.log.With().Str("batch_id", b.ID).Str("scope", b.Scope).Logger()

	runErr := e.run(ctx, scope, b, log)
	if runErr != nil {
		b.Status = core.BatchFailed
		b.Details.Notes = append(b.Details.Notes, "batch aborted: "+runErr.Error())
	} else if b.FailedAccounts > 0 {
		b.Status = core.BatchFailed
	} else {
		b.Status = core.BatchCompleted
	}
	done := e.now().UTC()
	b.CompletedAt = &done
	if err := e.assignments.FinishBatch(context.WithoutCancel(ctx), b); err != nil {
		return nil, core.E(core.CodePersist, "classify.close", err)
	}
	metrics.ClassificationBatchesTotal.WithLabelValues(string(b.Status)).Inc()

	ev := log.Info()
	if b.Status == core.BatchFailed {
		ev = log.Warn().Err(runErr)
	}
	ev.Int("total", b.TotalAccounts).Int("matched", b.MatchedAccounts).Int("failed", b.FailedAccounts).
		Int("assigned", b.Details.Assigned).Int("revoked", b.Details.Revoked).Msg("classification batch finished")
	return b, runErr
}

func (e *Engine) run(ctx context.Context, scope Scope, b *core.ClassificationBatch, log zerolog.Logger) error {
	rules, err := e.rules.Load(ctx)
	if err != nil {
		return core.E(core.CodePersist, "classify.rules", err)
	}
	b.Details.Rules = rules.Len()

	accounts, err := e.accounts.ListActive(ctx, core.AccountFilter{InstanceID: scope.InstanceID, AccountIDs: scope.AccountIDs})
	if err != nil {
		return core.E(core.CodePersist, "classify.accounts", err)
	}
	b.TotalAccounts = len(accounts)

	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	current, err := e.assignments.ActiveByAccounts(ctx, ids)
	if err != nil {
		return core.E(core.CodePersist, "classify.assignments", err)
	}

	unavailable := make(map[string]int)
	for i := range accounts {
		if err := ctx.Err(); err != nil {
			return core.E(core.CodeCancelled, "classify.run", err)
		}
		acct := &accounts[i]
		matched, err := e.evaluate(acct, rules, unavailable)
		if err != nil {
			b.FailedAccounts++
			b.Details.Failures = append(b.Details.Failures, core.BatchFailure{AccountID: acct.ID, Reason: err.Error()})
			log.Warn().Err(err).Int64("account_id", acct.ID).Msg("account could not be classified")
			continue
		}
		if len(matched) > 0 {
			b.MatchedAccounts++
		}
		if err := e.reconcile(ctx, b, acct.ID, matched, current[acct.ID]); err != nil {
			b.FailedAccounts++
			b.Details.Failures = append(b.Details.Failures, core.BatchFailure{AccountID: acct.ID, Reason: err.Error()})
		}
	}
	b.Details.Notes = append(b.Details.Notes, unavailableNotes(unavailable)...)

	return e.revokeGone(ctx, scope, accounts, b)
}

// evaluate returns the classifications matched by acct, in rule order.
func (e *Engine) evaluate(acct *core.Account, rules RuleSet, unavailable map[string]int) ([]int64, error) {
	if acct.Permissions == nil {
		return nil, fmt.Errorf("account %s has no decodable permissions", acct.Key())
	}
	var matched []int64
	seen := make(map[int64]bool)
	for _, r := range rules.For(acct.Vendor) {
		out, err := Evaluate(r.Expression, &acct.AccountRecord)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		for _, cat := range out.Unavailable {
			unavailable[fmt.Sprintf("rule %q: %s unavailable", r.Name, cat)]++
		}
		if out.Matched && !seen[r.ClassificationID] {
			seen[r.ClassificationID] = true
			matched = append(matched, r.ClassificationID)
		}
	}
	return matched, nil
}

// reconcile upserts the matched auto assignments and deactivates auto
// assignments no rule produces any more. Manual rows are left alone.
func (e *Engine) reconcile(ctx context.Context, b *core.ClassificationBatch, accountID int64, matched []int64, current []core.Assignment) error {
	keep := make(map[int64]bool, len(matched))
	for _, cid := range matched {
		keep[cid] = true
		a := core.Assignment{
			AccountID:        accountID,
			ClassificationID: cid,
			AssignmentType:   core.AssignmentAuto,
			Confidence:       1.0,
			BatchID:          b.ID,
		}
		if err := e.assignments.Upsert(ctx, &a); err != nil {
			return err
		}
		b.Details.Assigned++
	}
	var stale []int64
	for _, a := range current {
		if a.AssignmentType == core.AssignmentAuto && !keep[a.ClassificationID] {
			stale = append(stale, a.ID)
		}
	}
	if err := e.assignments.Deactivate(ctx, stale); err != nil {
		return err
	}
	b.Details.Revoked += len(stale)
	metrics.ClassificationAssignments.WithLabelValues("assigned").Add(float64(len(matched)))
	metrics.ClassificationAssignments.WithLabelValues("revoked").Add(float64(len(stale)))
	return nil
}

// revokeGone deactivates every assignment of accounts in scope that are no
// longer active.
func (e *Engine) revokeGone(ctx context.Context, scope Scope, active []core.Account, b *core.ClassificationBatch) error {
	live := make(map[int64]bool, len(active))
	for _, a := range active {
		live[a.ID] = true
	}
	var gone []int64
	switch {
	case scope.InstanceID > 0:
		ids, err := e.accounts.ListDeletedIDs(ctx, scope.InstanceID)
		if err != nil {
			return core.E(core.CodePersist, "classify.deleted", err)
		}
		gone = ids
	case len(scope.AccountIDs) > 0:
		for _, id := range scope.AccountIDs {
			if !live[id] {
				gone = append(gone, id)
			}
		}
	default:
		all, err := e.assignments.ListActive(ctx, 0)
		if err != nil {
			return core.E(core.CodePersist, "classify.deleted", err)
		}
		seen := make(map[int64]bool)
		for _, a := range all {
			if !live[a.AccountID] && !seen[a.AccountID] {
				seen[a.AccountID] = true
				gone = append(gone, a.AccountID)
			}
		}
	}
	n, err := e.assignments.DeactivateForAccounts(ctx, gone, "")
	if err != nil {
		return core.E(core.CodePersist, "classify.deleted", err)
	}
	b.Details.Revoked += int(n)
	return nil
}

func unavailableNotes(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k, n := range m {
		out = append(out, fmt.Sprintf("%s for %d account(s), evaluated as no match", k, n))
	}
	sort.Strings(out)
	return out
}

// waitForSync blocks while a sync is applying accounts this run would read.
func (e *Engine) waitForSync(ctx context.Context, scope Scope) error {
	if e.syncs == nil {
		return nil
	}
	var instances []int64
	switch {
	case scope.InstanceID > 0:
		instances = []int64{scope.InstanceID}
	case len(scope.AccountIDs) > 0:
		accts, err := e.accounts.ListActive(ctx, core.AccountFilter{AccountIDs: scope.AccountIDs})
		if err != nil {
			return core.E(core.CodePersist, "classify.wait", err)
		}
		seen := make(map[int64]bool)
		for _, a := range accts {
			if !seen[a.InstanceID] {
				seen[a.InstanceID] = true
				instances = append(instances, a.InstanceID)
			}
		}
		if len(instances) == 0 {
			return nil
		}
	}

	if e.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.WaitTimeout)
		defer cancel()
	}
	logged := false
	for {
		busy, err := e.syncs.SyncInProgress(ctx, instances)
		if err != nil {
			return core.E(core.CodePersist, "classify.wait", err)
		}
		if !busy {
			return nil
		}
		if !logged {
			e.log.Info().Str("scope", scope.String()).Msg("waiting for running sync to finish")
			logged = true
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return core.Errorf(core.CodeLocked, "classify.wait", "sync still running after %s", e.opts.WaitTimeout)
			}
			return core.E(core.CodeCancelled, "classify.wait", ctx.Err())
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// AssignManual pins a classification on an account. Auto runs never revoke it.
func (e *Engine) AssignManual(ctx context.Context, accountID, classificationID int64, actor string) (*core.Assignment, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.DeletedAt != nil {
		return nil, core.Errorf(core.CodeValidation, "assign.manual", "account %d is deleted", accountID)
	}
	if _, err := e.rules.GetClassification(ctx, classificationID); err != nil {
		return nil, err
	}
	a := &core.Assignment{
		AccountID:        accountID,
		ClassificationID: classificationID,
		AssignmentType:   core.AssignmentManual,
		Confidence:       1.0,
		AssignedBy:       actor,
	}
	if err := e.assignments.Upsert(ctx, a); err != nil {
		return nil, core.E(core.CodePersist, "assign.manual", err)
	}
	e.log.Info().Int64("account_id", accountID).Int64("classification_id", classificationID).Str("actor", actor).Msg("manual assignment")
	return a, nil
}

// Unassign deactivates the active assignment of a classification on an
// account, whatever its type.
func (e *Engine) Unassign(ctx context.Context, accountID, classificationID int64, actor string) error {
	current, err := e.assignments.ActiveByAccounts(ctx, []int64{accountID})
	if err != nil {
		return core.E(core.CodePersist, "assign.remove", err)
	}
	for _, a := range current[accountID] {
		if a.ClassificationID == classificationID {
			if err := e.assignments.Deactivate(ctx, []int64{a.ID}); err != nil {
				return core.E(core.CodePersist, "assign.remove", err)
			}
			e.log.Info().Int64("account_id", accountID).Int64("classification_id", classificationID).Str("actor", actor).Msg("assignment removed")
			return nil
		}
	}
	return core.ErrNotFound
}

// AccountView is an account with its permissions and active assignments.
type AccountView struct {
	core.Account
	Privileges      core.Permissions  `json:"permissions"`
	Classifications []core.Assignment `json:"classifications"`
}

// Accounts lists active accounts with their active assignments.
func (e *Engine) Accounts(ctx context.Context, f core.AccountFilter) ([]AccountView, error) {
	accts, err := e.accounts.ListActive(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(accts))
	for i, a := range accts {
		ids[i] = a.ID
	}
	byAccount, err := e.assignments.ActiveByAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]AccountView, len(accts))
	for i, a := range accts {
		out[i] = AccountView{Account: a, Privileges: a.Permissions, Classifications: byAccount[a.ID]}
	}
	return out, nil
}

// Account returns one account, deleted or not, with its active assignments.
func (e *Engine) Account(ctx context.Context, id int64) (*AccountView, error) {
	a, err := e.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	byAccount, err := e.assignments.ActiveByAccounts(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return &AccountView{Account: *a, Privileges: a.Permissions, Classifications: byAccount[id]}, nil
}

func (e *Engine) Batch(ctx context.Context, id string) (*core.ClassificationBatch, error) {
	return e.assignments.GetBatch(ctx, id)
}

func (e *Engine) Batches(ctx context.Context, limit int) ([]core.ClassificationBatch, error) {
	return e.assignments.ListBatches(ctx, limit)
}
