package core

// ChangeKind is the outcome of diffing one account.
type ChangeKind string

const (
	ChangeCreate    ChangeKind = "create"
	ChangeUpdate    ChangeKind = "update"
	ChangeTombstone ChangeKind = "tombstone"
	ChangeNoChange  ChangeKind = "no_change"
)

// Change is one entry of a change list.
// Record is set for Create and Update; Prev for every kind except Create.
type Change struct {
	Kind   ChangeKind
	Key    AccountKey
	Record *AccountRecord
	Prev   *Account
	Hash   string
}

// ChangeList is ordered: creates, updates, tombstones, then no-change
// entries, each group by key.
type ChangeList []Change

// Count tallies the list by kind without applying it.
func (l ChangeList) Count() ChangeCounts {
	var c ChangeCounts
	for _, ch := range l {
		switch ch.Kind {
		case ChangeCreate:
			c.Created++
		case ChangeUpdate:
			c.Updated++
		case ChangeTombstone:
			c.Deleted++
		case ChangeNoChange:
			c.Unchanged++
		}
	}
	return c
}

// ChangeError reports the change that made a batch fail.
type ChangeError struct {
	Change Change
	Err    error
}

func (e *ChangeError) Error() string {
	return string(e.Change.Kind) + " " + e.Change.Key.String() + ": " + e.Err.Error()
}

func (e *ChangeError) Unwrap() error {
	return e.Err
}
