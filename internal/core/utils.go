package core

import (
	"regexp"
	"strings"
)

var slugInvalid = regexp.MustCompile("[^a-z0-9]+")

// Slugify converts a display name to an identifier of lowercase letters,
// digits and single underscores.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(slugInvalid.ReplaceAllString(s, "_"), "_")
}
