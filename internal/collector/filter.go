package collector

import (
	"regexp"
	"strings"

	"dbinventory/internal/config"
	"dbinventory/internal/core"
)

// alwaysIncluded are accounts kept even when an exclude pattern matches them.
var alwaysIncluded = map[core.Vendor][]string{
	core.VendorPostgreSQL: {"postgres"},
}

// accountFilter drops built-in system accounts from a snapshot.
type accountFilter struct {
	foldCase bool
	exclude  map[string]struct{}
	include  map[string]struct{}
	patterns []*regexp.Regexp
}

// newAccountFilter builds the filter for a vendor. PostgreSQL role names are
// case sensitive; the other vendors compare names case-insensitively.
func newAccountFilter(v core.Vendor, vf config.VendorFilter) *accountFilter {
	f := &accountFilter{
		foldCase: v != core.VendorPostgreSQL,
		exclude:  map[string]struct{}{},
		include:  map[string]struct{}{},
	}
	for _, u := range vf.ExcludeUsers {
		f.exclude[f.norm(u)] = struct{}{}
	}
	for _, u := range append(vf.IncludeUsers, alwaysIncluded[v]...) {
		f.include[f.norm(u)] = struct{}{}
	}
	for _, p := range vf.ExcludePatterns {
		f.patterns = append(f.patterns, likeToRegexp(p, f.foldCase))
	}
	return f
}

func (f *accountFilter) norm(name string) string {
	if f.foldCase {
		return strings.ToLower(name)
	}
	return name
}

// Keep reports whether username belongs in the snapshot.
func (f *accountFilter) Keep(username string) bool {
	n := f.norm(username)
	if _, ok := f.include[n]; ok {
		return true
	}
	if _, ok := f.exclude[n]; ok {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(username) {
			return false
		}
	}
	return true
}

// likeToRegexp translates a SQL LIKE pattern. % matches any run of
// characters and _ exactly one; there is no escape character.
func likeToRegexp(pattern string, foldCase bool) *regexp.Regexp {
	var b strings.Builder
	if foldCase {
		b.WriteString("(?i)")
	}
	b.WriteString(`\A`)
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`\z`)
	return regexp.MustCompile("(?s)" + b.String())
}

// MatchLike reports whether s matches the LIKE pattern.
func MatchLike(pattern, s string, foldCase bool) bool {
	return likeToRegexp(pattern, foldCase).MatchString(s)
}
