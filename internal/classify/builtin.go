package classify

import (
	"context"
	"fmt"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
)

type builtinRule struct {
	vendor core.Vendor
	name   string
	expr   core.Expr
}

type builtinClass struct {
	class core.Classification
	rules []builtinRule
}

func builtins() []builtinClass {
	return []builtinClass{
		{
			class: core.Classification{Name: "privileged", Description: "Full administrative control of the instance",
				RiskLevel: core.RiskHigh, Color: "red", Priority: 100},
			rules: []builtinRule{
				{core.VendorMySQL, "mysql superuser", core.HasAny("global_privileges", "SUPER", "ALL PRIVILEGES")},
				{core.VendorPostgreSQL, "postgresql superuser", core.HasAny("role_attributes", "SUPERUSER")},
				{core.VendorSQLServer, "sqlserver sysadmin", core.Or(
					core.IsMember("server_roles", "sysadmin", "securityadmin"),
					core.HasAny("server_permissions", "CONTROL SERVER"),
				)},
				{core.VendorOracle, "oracle dba", core.Or(
					core.IsMember("roles", "DBA"),
					core.HasAny("system_privileges", "SYSDBA", "GRANT ANY PRIVILEGE", "GRANT ANY ROLE", "ALTER USER"),
				)},
			},
		},
		{
			class: core.Classification{Name: "elevated", Description: "Can manage accounts, storage or server processes",
				RiskLevel: core.RiskMedium, Color: "orange", Priority: 50},
			rules: []builtinRule{
				{core.VendorMySQL, "mysql admin privileges", core.HasAny("global_privileges",
					"GRANT OPTION", "CREATE USER", "FILE", "PROCESS", "RELOAD", "SHUTDOWN")},
				{core.VendorPostgreSQL, "postgresql admin attributes", core.HasAny("role_attributes",
					"CREATEROLE", "CREATEDB", "REPLICATION", "BYPASSRLS")},
				{core.VendorSQLServer, "sqlserver admin roles", core.IsMember("server_roles",
					"serveradmin", "setupadmin", "processadmin", "diskadmin", "dbcreator", "bulkadmin")},
				{core.VendorOracle, "oracle unlimited storage", core.Or(
					core.HasAny("system_privileges", "UNLIMITED TABLESPACE", "CREATE USER", "DROP USER", "ALTER SYSTEM"),
					core.Equals("tablespace_quotas.USERS", "UNLIMITED"),
				)},
			},
		},
		{
			class: core.Classification{Name: "disabled", Description: "Locked or expired accounts",
				RiskLevel: core.RiskLow, Color: "gray", Priority: 10},
			rules: func() []builtinRule {
				var out []builtinRule
				for _, v := range core.Vendors {
					out = append(out, builtinRule{v, fmt.Sprintf("%s locked or expired", v),
						core.Or(core.Equals("is_locked", "true"), core.Equals("password_expired", "true"))})
				}
				return out
			}(),
		},
	}
}

// Seed installs the built-in classifications and their rules when the
// store has none.
func (s *RuleStore) Seed(ctx context.Context) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, b := range builtins() {
		c := b.class
		c.IsActive = true
		c.IsSystem = true
		if err := s.repo.Create(ctx, &c); err != nil {
			return fmt.Errorf("seed classification %s: %w", c.Name, err)
		}
		for _, br := range b.rules {
			r := core.ClassificationRule{ClassificationID: c.ID, Name: br.name, Vendor: br.vendor, Expression: br.expr, IsActive: true}
			if err := s.repo.CreateRule(ctx, &r); err != nil {
				return fmt.Errorf("seed rule %s: %w", br.name, err)
			}
		}
	}
	logger.Info().Str("component", "classify").Int("classifications", len(builtins())).Msg("built-in classifications installed")
	return nil
}
