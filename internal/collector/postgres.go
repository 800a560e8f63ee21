package collector

import (
	"context"
	"database/sql"
	"time"

	"dbinventory/internal/core"

	"github.com/lib/pq"
)

const (
	pgRolesQuery = `
		SELECT rolname, rolsuper, rolinherit, rolcreaterole, rolcreatedb, rolcanlogin,
		       rolreplication, rolbypassrls, NULLIF(rolvaliduntil, 'infinity'), rolconnlimit
		FROM pg_roles`

	pgMembersQuery = `
		SELECT m.rolname, array_agg(r.rolname ORDER BY r.rolname), bool_or(am.admin_option)
		FROM pg_auth_members am
		JOIN pg_roles r ON r.oid = am.roleid
		JOIN pg_roles m ON m.oid = am.member
		GROUP BY m.rolname`

	pgDatabasePrivsQuery = `
		SELECT r.rolname, d.datname,
		       array_remove(ARRAY[
		           CASE WHEN has_database_privilege(r.oid, d.oid, 'CONNECT') THEN 'CONNECT' END,
		           CASE WHEN has_database_privilege(r.oid, d.oid, 'CREATE') THEN 'CREATE' END,
		           CASE WHEN has_database_privilege(r.oid, d.oid, 'TEMPORARY') THEN 'TEMPORARY' END
		       ], NULL)
		FROM pg_roles r
		CROSS JOIN pg_database d
		WHERE d.datallowconn AND NOT d.datistemplate`

	pgTablespacePrivsQuery = `
		SELECT r.rolname, t.spcname
		FROM pg_roles r
		CROSS JOIN pg_tablespace t
		WHERE has_tablespace_privilege(r.oid, t.oid, 'CREATE')`
)

type postgresAdapter struct{}

func (postgresAdapter) Vendor() core.Vendor { return core.VendorPostgreSQL }

type pgRole struct {
	Name        string
	Super       bool
	Inherit     bool
	CreateRole  bool
	CreateDB    bool
	CanLogin    bool
	Replication bool
	BypassRLS   bool
	ValidUntil  *time.Time
	ConnLimit   int
}

type pgMembership struct {
	Member string
	Roles  []string
	Admin  bool
}

type pgObjectPrivs struct {
	Role   string
	Object string
	Privs  []string
}

type pgRaw struct {
	Roles       []pgRole
	Members     []pgMembership
	Databases   []pgObjectPrivs
	Tablespaces []pgObjectPrivs
}

func (a postgresAdapter) collect(ctx context.Context, r *runner) ([]core.AccountRecord, error) {
	raw, err := a.fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	return assemblePostgres(raw), nil
}

func (postgresAdapter) fetch(ctx context.Context, r *runner) (*pgRaw, error) {
	raw := &pgRaw{}
	err := r.required(ctx, pgRolesQuery, func(rows *sql.Rows) error {
		var role pgRole
		var valid sql.NullTime
		if err := rows.Scan(&role.Name, &role.Super, &role.Inherit, &role.CreateRole, &role.CreateDB,
			&role.CanLogin, &role.Replication, &role.BypassRLS, &valid, &role.ConnLimit); err != nil {
			return err
		}
		if valid.Valid {
			t := valid.Time
			role.ValidUntil = &t
		}
		raw.Roles = append(raw.Roles, role)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.optional(ctx, []string{"member_of"}, pgMembersQuery, func(rows *sql.Rows) error {
		var m pgMembership
		if err := rows.Scan(&m.Member, pq.Array(&m.Roles), &m.Admin); err != nil {
			return err
		}
		raw.Members = append(raw.Members, m)
		return nil
	}); err != nil {
		return nil, err
	}

	if _, err := r.optional(ctx, []string{"database_privileges", "database_grants"}, pgDatabasePrivsQuery, func(rows *sql.Rows) error {
		var p pgObjectPrivs
		if err := rows.Scan(&p.Role, &p.Object, pq.Array(&p.Privs)); err != nil {
			return err
		}
		raw.Databases = append(raw.Databases, p)
		return nil
	}); err != nil {
		return nil, err
	}

	if _, err := r.optional(ctx, []string{"tablespace_privileges", "tablespace_grants"}, pgTablespacePrivsQuery, func(rows *sql.Rows) error {
		var p pgObjectPrivs
		if err := rows.Scan(&p.Role, &p.Object); err != nil {
			return err
		}
		p.Privs = []string{"CREATE"}
		raw.Tablespaces = append(raw.Tablespaces, p)
		return nil
	}); err != nil {
		return nil, err
	}
	return raw, nil
}

func pgRoleAttributes(role pgRole) []string {
	var attrs []string
	add := func(on bool, name string) {
		if on {
			attrs = append(attrs, name)
		}
	}
	add(role.Super, "SUPERUSER")
	add(role.Inherit, "INHERIT")
	add(role.CreateRole, "CREATEROLE")
	add(role.CreateDB, "CREATEDB")
	add(role.CanLogin, "LOGIN")
	add(role.Replication, "REPLICATION")
	add(role.BypassRLS, "BYPASSRLS")
	return attrs
}

func assemblePostgres(raw *pgRaw) []core.AccountRecord {
	members := make(map[string]pgMembership, len(raw.Members))
	for _, m := range raw.Members {
		members[m.Member] = m
	}
	dbs := make(map[string]core.SetMap)
	for _, p := range raw.Databases {
		if len(p.Privs) == 0 {
			continue
		}
		if dbs[p.Role] == nil {
			dbs[p.Role] = core.SetMap{}
		}
		dbs[p.Role].Add(p.Object, p.Privs...)
	}
	spcs := make(map[string]core.SetMap)
	for _, p := range raw.Tablespaces {
		if spcs[p.Role] == nil {
			spcs[p.Role] = core.SetMap{}
		}
		spcs[p.Role].Add(p.Object, p.Privs...)
	}

	out := make([]core.AccountRecord, 0, len(raw.Roles))
	for _, role := range raw.Roles {
		p := core.NewPostgreSQLPermissions()
		p.RoleAttributes = core.NewStringSet(pgRoleAttributes(role)...)
		m := members[role.Name]
		p.MemberOf = core.NewStringSet(m.Roles...)
		if g := dbs[role.Name]; g != nil {
			p.DatabaseGrants = g
			p.DatabasePrivileges = g.Union()
		}
		if g := spcs[role.Name]; g != nil {
			p.TablespaceGrants = g
			p.TablespacePrivileges = g.Union()
		}

		kind := core.KindRole
		if role.CanLogin {
			kind = core.KindLogin
		}
		rec := core.AccountRecord{
			Username:    role.Name,
			Kind:        kind,
			IsSuperuser: role.Super,
			CanGrant:    role.Super || role.CreateRole || m.Admin,
			ValidUntil:  role.ValidUntil,
			Permissions: p,
		}
		if role.ValidUntil != nil && role.ValidUntil.Before(time.Now()) {
			rec.PasswordExpired = true
		}
		if role.ConnLimit == 0 && role.CanLogin {
			rec.IsLocked = true
		}
		out = append(out, rec)
	}
	return out
}
