package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
)

type hashPayload struct {
	Kind            AccountKind       `json:"kind"`
	IsSuperuser     bool              `json:"is_superuser"`
	CanGrant        bool              `json:"can_grant"`
	IsLocked        bool              `json:"is_locked"`
	PasswordExpired bool              `json:"password_expired"`
	ValidUntil      string            `json:"valid_until"`
	Attributes      map[string]string `json:"attributes"`
	Permissions     Permissions       `json:"permissions"`
}

// StructuralHash fingerprints the permissions and flags of a record.
// Sets are sorted and maps are emitted with sorted keys, so two records that
// differ only in collection order hash the same. LastLogin is excluded.
func StructuralHash(r AccountRecord) (string, error) {
	p := hashPayload{
		Kind:            r.Kind,
		IsSuperuser:     r.IsSuperuser,
		CanGrant:        r.CanGrant,
		IsLocked:        r.IsLocked,
		PasswordExpired: r.PasswordExpired,
		Attributes:      map[string]string{},
	}
	if r.ValidUntil != nil {
		p.ValidUntil = r.ValidUntil.UTC().Format(time.RFC3339)
	}
	for k, v := range r.Attributes {
		p.Attributes[k] = v
	}
	if r.Permissions != nil {
		p.Permissions = r.Permissions.Canonical()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
