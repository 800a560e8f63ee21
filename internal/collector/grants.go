package collector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"dbinventory/internal/core"
)

const grantOption = "GRANT OPTION"

var reGrant = regexp.MustCompile(`(?i)^GRANT\s+(.+?)\s+ON\s+(\S+)\s+TO\s+.+?(\s+WITH\s+GRANT\s+OPTION)?\s*$`)

// ParseGrants builds MySQL permissions from SHOW GRANTS output. Only global
// (*.*) and database (`db`.*) grants are kept; table, column, proxy and role
// grants are ignored.
func ParseGrants(lines []string) (*core.MySQLPermissions, error) {
	p := core.NewMySQLPermissions()
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
		if line == "" {
			continue
		}
		m := reGrant.FindStringSubmatch(line)
		if m == nil {
			if strings.HasPrefix(strings.ToUpper(line), "GRANT ") {
				// role grant: GRANT `r`@`%` TO ...
				continue
			}
			return nil, fmt.Errorf("unrecognized grant: %q", line)
		}
		privs := splitPrivileges(m[1])
		if m[3] != "" {
			privs = append(privs, grantOption)
		}

		target := m[2]
		switch {
		case target == "*.*":
			p.GlobalPrivileges = append(p.GlobalPrivileges, privs...)
		case strings.HasSuffix(target, ".*"):
			db := unquoteIdent(strings.TrimSuffix(target, ".*"))
			p.DatabasePrivileges.Add(db, privs...)
		}
	}
	p.GlobalPrivileges = core.NewStringSet(p.GlobalPrivileges...)
	return p, nil
}

// splitPrivileges splits "SELECT, INSERT (a, b), UPDATE" on top-level commas.
// USAGE means no privilege and is dropped.
func splitPrivileges(s string) []string {
	var out []string
	depth, start := 0, 0
	add := func(part string) {
		part = strings.ToUpper(strings.TrimSpace(part))
		if i := strings.IndexByte(part, '('); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		if part != "" && part != "USAGE" {
			out = append(out, part)
		}
	}
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				add(s[start:i])
				start = i + 1
			}
		}
	}
	add(s[start:])
	return out
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteAccount(k core.AccountKey) string {
	q := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
	return q(k.Username) + "@" + q(k.HostQualifier)
}

// EmitGrants renders permissions as the GRANT statements SHOW GRANTS would
// print for the account. ParseGrants(EmitGrants(k, p)) equals p.
func EmitGrants(k core.AccountKey, p *core.MySQLPermissions) []string {
	to := quoteAccount(k)
	stmt := func(privs core.StringSet, on string) string {
		var names []string
		withGrant := false
		for _, pr := range privs {
			if pr == grantOption {
				withGrant = true
				continue
			}
			names = append(names, pr)
		}
		list := "USAGE"
		if len(names) > 0 {
			list = strings.Join(names, ", ")
		}
		s := "GRANT " + list + " ON " + on + " TO " + to
		if withGrant {
			s += " WITH GRANT OPTION"
		}
		return s
	}

	out := []string{stmt(p.GlobalPrivileges.Canonical(), "*.*")}
	dbs := make([]string, 0, len(p.DatabasePrivileges))
	for db := range p.DatabasePrivileges {
		dbs = append(dbs, db)
	}
	sort.Strings(dbs)
	for _, db := range dbs {
		out = append(out, stmt(p.DatabasePrivileges[db].Canonical(), quoteIdent(db)+".*"))
	}
	return out
}

var reGrantee = regexp.MustCompile(`^'((?:[^']|'')*)'@'((?:[^']|'')*)'$`)

// parseGrantee splits an information_schema GRANTEE such as 'alice'@'%'.
func parseGrantee(s string) (core.AccountKey, bool) {
	m := reGrantee.FindStringSubmatch(s)
	if m == nil {
		return core.AccountKey{}, false
	}
	return core.AccountKey{
		Username:      strings.ReplaceAll(m[1], "''", "'"),
		HostQualifier: strings.ReplaceAll(m[2], "''", "'"),
	}, true
}
