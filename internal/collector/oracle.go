package collector

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"dbinventory/internal/core"
)

const (
	oraUsersQuery = `
		SELECT username, account_status, default_tablespace, temporary_tablespace, profile,
		       expiry_date, CAST(last_login AS TIMESTAMP)
		FROM dba_users`

	oraRolePrivsQuery = `SELECT grantee, granted_role, admin_option FROM dba_role_privs`

	oraSysPrivsQuery = `SELECT grantee, privilege, admin_option FROM dba_sys_privs`

	oraQuotasQuery = `SELECT username, tablespace_name, max_bytes FROM dba_ts_quotas`

	oraTabPrivsQuery = `SELECT grantee, owner, table_name, privilege, grantable FROM dba_tab_privs`
)

// oraGrantAnyPrivileges let an account hand out rights it does not hold.
var oraGrantAnyPrivileges = []string{"GRANT ANY PRIVILEGE", "GRANT ANY ROLE", "GRANT ANY OBJECT PRIVILEGE"}

type oracleAdapter struct{}

func (oracleAdapter) Vendor() core.Vendor { return core.VendorOracle }

type oraUser struct {
	Username   string
	Status     string
	DefaultTS  string
	TempTS     string
	Profile    string
	ExpiryDate *time.Time
	LastLogin  *time.Time
}

type oraGrant struct {
	Grantee string
	Name    string
	Admin   bool
}

type oraQuota struct {
	Username   string
	Tablespace string
	MaxBytes   int64
}

type oraTabPriv struct {
	Grantee   string
	Owner     string
	Object    string
	Privilege string
	Grantable bool
}

type oraRaw struct {
	Users    []oraUser
	Roles    []oraGrant
	SysPrivs []oraGrant
	Quotas   []oraQuota
	TabPrivs []oraTabPriv
}

func (a oracleAdapter) collect(ctx context.Context, r *runner) ([]core.AccountRecord, error) {
	raw, err := a.fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	return assembleOracle(raw), nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (oracleAdapter) fetch(ctx context.Context, r *runner) (*oraRaw, error) {
	raw := &oraRaw{}
	err := r.required(ctx, oraUsersQuery, func(rows *sql.Rows) error {
		var u oraUser
		var defTS, tmpTS, profile sql.NullString
		var expiry, last sql.NullTime
		if err := rows.Scan(&u.Username, &u.Status, &defTS, &tmpTS, &profile, &expiry, &last); err != nil {
			return err
		}
		u.DefaultTS, u.TempTS, u.Profile = defTS.String, tmpTS.String, profile.String
		u.ExpiryDate, u.LastLogin = nullTimePtr(expiry), nullTimePtr(last)
		raw.Users = append(raw.Users, u)
		return nil
	})
	if err != nil {
		return nil, err
	}

	scanGrant := func(dst *[]oraGrant) func(*sql.Rows) error {
		return func(rows *sql.Rows) error {
			var g oraGrant
			var admin string
			if err := rows.Scan(&g.Grantee, &g.Name, &admin); err != nil {
				return err
			}
			g.Admin = yes(admin)
			*dst = append(*dst, g)
			return nil
		}
	}
	if _, err := r.optional(ctx, []string{"roles"}, oraRolePrivsQuery, scanGrant(&raw.Roles)); err != nil {
		return nil, err
	}
	if _, err := r.optional(ctx, []string{"system_privileges"}, oraSysPrivsQuery, scanGrant(&raw.SysPrivs)); err != nil {
		return nil, err
	}
	if _, err := r.optional(ctx, []string{"tablespace_quotas"}, oraQuotasQuery, func(rows *sql.Rows) error {
		var q oraQuota
		if err := rows.Scan(&q.Username, &q.Tablespace, &q.MaxBytes); err != nil {
			return err
		}
		raw.Quotas = append(raw.Quotas, q)
		return nil
	}); err != nil {
		return nil, err
	}
	ok, err := r.optional(ctx, []string{"object_privileges"}, oraTabPrivsQuery, func(rows *sql.Rows) error {
		var p oraTabPriv
		var grantable string
		if err := rows.Scan(&p.Grantee, &p.Owner, &p.Object, &p.Privilege, &grantable); err != nil {
			return err
		}
		p.Grantable = yes(grantable)
		raw.TabPrivs = append(raw.TabPrivs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		r.note("oracle: dba_tab_privs not readable, object privileges omitted")
	}
	return raw, nil
}

// quotaString renders max_bytes; -1 is UNLIMITED.
func quotaString(maxBytes int64) string {
	if maxBytes < 0 {
		return core.QuotaUnlimited
	}
	return strconv.FormatInt(maxBytes, 10)
}

func assembleOracle(raw *oraRaw) []core.AccountRecord {
	perms := make(map[string]*core.OraclePermissions, len(raw.Users))
	canGrant := make(map[string]bool)
	for _, u := range raw.Users {
		perms[u.Username] = core.NewOraclePermissions()
	}
	for _, g := range raw.Roles {
		if p := perms[g.Grantee]; p != nil {
			p.Roles = append(p.Roles, g.Name)
			canGrant[g.Grantee] = canGrant[g.Grantee] || g.Admin
		}
	}
	for _, g := range raw.SysPrivs {
		if p := perms[g.Grantee]; p != nil {
			p.SystemPrivileges = append(p.SystemPrivileges, g.Name)
			canGrant[g.Grantee] = canGrant[g.Grantee] || g.Admin
		}
	}
	for _, q := range raw.Quotas {
		if p := perms[q.Username]; p != nil {
			p.TablespaceQuotas[q.Tablespace] = quotaString(q.MaxBytes)
		}
	}
	for _, t := range raw.TabPrivs {
		if p := perms[t.Grantee]; p != nil {
			p.ObjectPrivileges = append(p.ObjectPrivileges, core.ObjectPrivilege{Owner: t.Owner, Object: t.Object, Privilege: t.Privilege})
			canGrant[t.Grantee] = canGrant[t.Grantee] || t.Grantable
		}
	}

	out := make([]core.AccountRecord, 0, len(raw.Users))
	for _, u := range raw.Users {
		p := perms[u.Username]
		p.Roles = core.NewStringSet(p.Roles...)
		p.SystemPrivileges = core.NewStringSet(p.SystemPrivileges...)

		super := p.Roles.Contains("DBA") || p.SystemPrivileges.Contains("SYSDBA")
		grant := canGrant[u.Username]
		for _, priv := range oraGrantAnyPrivileges {
			if p.SystemPrivileges.Contains(priv) {
				grant = true
			}
		}
		status := strings.ToUpper(u.Status)
		rec := core.AccountRecord{
			Username:        u.Username,
			Kind:            core.KindUser,
			IsSuperuser:     super,
			CanGrant:        grant,
			IsLocked:        strings.Contains(status, "LOCKED"),
			PasswordExpired: strings.Contains(status, "EXPIRED"),
			ValidUntil:      u.ExpiryDate,
			LastLogin:       u.LastLogin,
			Permissions:     p,
			Attributes: map[string]string{
				"account_status":       u.Status,
				"default_tablespace":   u.DefaultTS,
				"temporary_tablespace": u.TempTS,
				"profile":              u.Profile,
			},
		}
		out = append(out, rec)
	}
	return out
}
