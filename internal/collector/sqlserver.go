package collector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbinventory/internal/core"
)

const (
	mssqlLoginsQuery = `
		SELECT p.name, p.type_desc, p.is_disabled, ISNULL(p.default_database_name, ''),
		       ISNULL(CAST(LOGINPROPERTY(p.name, 'IsLocked') AS int), 0),
		       ISNULL(CAST(LOGINPROPERTY(p.name, 'IsExpired') AS int), 0)
		FROM sys.server_principals p
		WHERE p.type IN ('S', 'U', 'G', 'E', 'X')`

	mssqlServerRolesQuery = `
		SELECT m.name, r.name
		FROM sys.server_role_members rm
		JOIN sys.server_principals r ON r.principal_id = rm.role_principal_id
		JOIN sys.server_principals m ON m.principal_id = rm.member_principal_id`

	mssqlServerPermsQuery = `
		SELECT p.name, sp.permission_name, sp.state
		FROM sys.server_permissions sp
		JOIN sys.server_principals p ON p.principal_id = sp.grantee_principal_id
		WHERE sp.state IN ('G', 'W')`

	mssqlDatabasesQuery = `
		SELECT name FROM sys.databases
		WHERE state_desc = 'ONLINE' AND name NOT IN ('tempdb', 'model', 'msdb')`
)

// mssqlDatabaseQuery reads role memberships and database-level permissions of
// one database in a single pass, mapped back to logins by SID.
func mssqlDatabaseQuery(db string) string {
	q := quoteBracket(db)
	return fmt.Sprintf(`
		SELECT 'role', sl.name, r.name, ''
		FROM %[1]s.sys.database_role_members rm
		JOIN %[1]s.sys.database_principals r ON r.principal_id = rm.role_principal_id
		JOIN %[1]s.sys.database_principals u ON u.principal_id = rm.member_principal_id
		JOIN sys.server_principals sl ON sl.sid = u.sid
		UNION ALL
		SELECT 'perm', sl.name, dp.permission_name, dp.state
		FROM %[1]s.sys.database_permissions dp
		JOIN %[1]s.sys.database_principals u ON u.principal_id = dp.grantee_principal_id
		JOIN sys.server_principals sl ON sl.sid = u.sid
		WHERE dp.class = 0 AND dp.state IN ('G', 'W')`, q)
}

func quoteBracket(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

type sqlserverAdapter struct{}

func (sqlserverAdapter) Vendor() core.Vendor { return core.VendorSQLServer }

type mssqlLogin struct {
	Name      string
	TypeDesc  string
	Disabled  bool
	DefaultDB string
	Locked    bool
	Expired   bool
}

type mssqlGrant struct {
	Login     string
	Name      string
	WithGrant bool
}

type mssqlDBEntry struct {
	Database  string
	Kind      string // role or perm
	Login     string
	Name      string
	WithGrant bool
}

type mssqlRaw struct {
	Logins      []mssqlLogin
	ServerRoles []mssqlGrant
	ServerPerms []mssqlGrant
	DBEntries   []mssqlDBEntry
}

func (a sqlserverAdapter) collect(ctx context.Context, r *runner) ([]core.AccountRecord, error) {
	raw, err := a.fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	return assembleSQLServer(raw), nil
}

func (sqlserverAdapter) fetch(ctx context.Context, r *runner) (*mssqlRaw, error) {
	raw := &mssqlRaw{}
	err := r.required(ctx, mssqlLoginsQuery, func(rows *sql.Rows) error {
		var l mssqlLogin
		var locked, expired int
		if err := rows.Scan(&l.Name, &l.TypeDesc, &l.Disabled, &l.DefaultDB, &locked, &expired); err != nil {
			return err
		}
		l.Locked, l.Expired = locked == 1, expired == 1
		raw.Logins = append(raw.Logins, l)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.optional(ctx, []string{"server_roles"}, mssqlServerRolesQuery, func(rows *sql.Rows) error {
		var g mssqlGrant
		if err := rows.Scan(&g.Login, &g.Name); err != nil {
			return err
		}
		raw.ServerRoles = append(raw.ServerRoles, g)
		return nil
	}); err != nil {
		return nil, err
	}

	if _, err := r.optional(ctx, []string{"server_permissions"}, mssqlServerPermsQuery, func(rows *sql.Rows) error {
		var g mssqlGrant
		var state string
		if err := rows.Scan(&g.Login, &g.Name, &state); err != nil {
			return err
		}
		g.WithGrant = state == "W"
		raw.ServerPerms = append(raw.ServerPerms, g)
		return nil
	}); err != nil {
		return nil, err
	}

	var dbs []string
	ok, err := r.optional(ctx, []string{"database_roles", "database_permissions"}, mssqlDatabasesQuery, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		dbs = append(dbs, name)
		return nil
	})
	if err != nil || !ok {
		return raw, err
	}

	for _, db := range dbs {
		if _, err := r.optional(ctx, []string{"database_roles", "database_permissions"}, mssqlDatabaseQuery(db), func(rows *sql.Rows) error {
			e := mssqlDBEntry{Database: db}
			var state string
			if err := rows.Scan(&e.Kind, &e.Login, &e.Name, &state); err != nil {
				return err
			}
			e.WithGrant = state == "W"
			raw.DBEntries = append(raw.DBEntries, e)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func assembleSQLServer(raw *mssqlRaw) []core.AccountRecord {
	perms := make(map[string]*core.SQLServerPermissions, len(raw.Logins))
	canGrant := make(map[string]bool)
	for _, l := range raw.Logins {
		perms[l.Name] = core.NewSQLServerPermissions()
	}

	for _, g := range raw.ServerRoles {
		if p := perms[g.Login]; p != nil {
			p.ServerRoles = append(p.ServerRoles, g.Name)
		}
	}
	for _, g := range raw.ServerPerms {
		if p := perms[g.Login]; p != nil {
			p.ServerPermissions = append(p.ServerPermissions, g.Name)
			if g.WithGrant {
				canGrant[g.Login] = true
			}
		}
	}
	for _, e := range raw.DBEntries {
		p := perms[e.Login]
		if p == nil {
			continue
		}
		switch e.Kind {
		case "role":
			p.DatabaseRoles.Add(e.Database, e.Name)
		case "perm":
			p.DatabasePermissions.Add(e.Database, e.Name)
			if e.WithGrant {
				canGrant[e.Login] = true
			}
		}
	}

	out := make([]core.AccountRecord, 0, len(raw.Logins))
	for _, l := range raw.Logins {
		p := perms[l.Name]
		p.ServerRoles = core.NewStringSet(p.ServerRoles...)
		p.ServerPermissions = core.NewStringSet(p.ServerPermissions...)

		sysadmin := p.ServerRoles.ContainsFold("sysadmin")
		rec := core.AccountRecord{
			Username:        l.Name,
			Kind:            core.KindLogin,
			IsSuperuser:     sysadmin,
			CanGrant:        canGrant[l.Name] || sysadmin || p.ServerRoles.ContainsFold("securityadmin") || p.ServerPermissions.ContainsFold("CONTROL SERVER"),
			IsLocked:        l.Disabled || l.Locked,
			PasswordExpired: l.Expired,
			Attributes:      map[string]string{"type": l.TypeDesc},
			Permissions:     p,
		}
		if l.DefaultDB != "" {
			rec.Attributes["default_database"] = l.DefaultDB
		}
		out = append(out, rec)
	}
	return out
}
