package core

import (
	"strconv"
	"strings"
)

// FieldState reports how a dotted path resolved against an account.
type FieldState int

const (
	FieldFound FieldState = iota
	FieldMissing
	// FieldUnavailable means the category could not be collected.
	FieldUnavailable
)

// ResolveField looks up a dotted path such as "global_privileges",
// "database_privileges.db1" or "tablespace_quotas.USERS". Only the first dot
// separates field from key, so Oracle "object_privileges.APP.ORDERS" selects
// the object APP.ORDERS. Account flags are addressable by name.
func ResolveField(r *AccountRecord, path string) (Value, FieldState) {
	name, key, keyed := strings.Cut(strings.TrimSpace(path), ".")
	if name == "" {
		return Value{}, FieldMissing
	}
	if v, ok := flagField(r, name); ok && !keyed {
		return v, FieldFound
	}
	if _, bad := r.Errors[name]; bad {
		return Value{}, FieldUnavailable
	}
	if r.Permissions == nil {
		return Value{}, FieldMissing
	}
	v, ok := r.Permissions.Field(name, key, keyed)
	if !ok {
		return Value{}, FieldMissing
	}
	return v, FieldFound
}

func flagField(r *AccountRecord, name string) (Value, bool) {
	switch name {
	case "is_superuser":
		return ScalarValue(strconv.FormatBool(r.IsSuperuser)), true
	case "can_grant":
		return ScalarValue(strconv.FormatBool(r.CanGrant)), true
	case "is_locked":
		return ScalarValue(strconv.FormatBool(r.IsLocked)), true
	case "password_expired":
		return ScalarValue(strconv.FormatBool(r.PasswordExpired)), true
	case "account_kind":
		return ScalarValue(string(r.Kind)), true
	case "username":
		return ScalarValue(r.Username), true
	}
	return Value{}, false
}
