package config

import (
	"fmt"

	"dbinventory/internal/core"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// VendorFilter lists built-in accounts to leave out of snapshots.
// Patterns use SQL LIKE syntax. IncludeUsers wins over both exclude lists.
type VendorFilter struct {
	ExcludeUsers    []string `koanf:"exclude_users"`
	ExcludePatterns []string `koanf:"exclude_patterns"`
	IncludeUsers    []string `koanf:"include_users"`
}

// FilterRules holds one VendorFilter per vendor.
type FilterRules map[core.Vendor]VendorFilter

// DefaultFilterRules returns the system accounts excluded when no rules file is configured.
func DefaultFilterRules() FilterRules {
	return FilterRules{
		core.VendorMySQL: {
			ExcludeUsers:    []string{"mysql.sys", "mysql.session", "mysql.infoschema", "debian-sys-maint", "rdsadmin"},
			ExcludePatterns: []string{"mysql.%"},
		},
		core.VendorPostgreSQL: {
			ExcludeUsers:    []string{"rdsadmin", "rds_replication", "rdstopmgr"},
			ExcludePatterns: []string{"pg_%"},
		},
		core.VendorSQLServer: {
			ExcludeUsers:    []string{"sys", "INFORMATION_SCHEMA", "guest", "dbo"},
			ExcludePatterns: []string{"##%##", `NT SERVICE\%`, `NT AUTHORITY\%`},
		},
		core.VendorOracle: {
			ExcludeUsers: []string{
				"ANONYMOUS", "APPQOSSYS", "AUDSYS", "CTXSYS", "DBSFWUSER", "DBSNMP", "DIP", "DVF", "DVSYS",
				"GGSYS", "GSMADMIN_INTERNAL", "GSMCATUSER", "GSMROOTUSER", "GSMUSER", "LBACSYS", "MDDATA",
				"MDSYS", "OJVMSYS", "OLAPSYS", "ORACLE_OCM", "ORDDATA", "ORDPLUGINS", "ORDSYS", "OUTLN",
				"REMOTE_SCHEDULER_AGENT", "SI_INFORMTN_SCHEMA", "SYS$UMF", "SYSBACKUP", "SYSDG", "SYSKM",
				"SYSRAC", "WMSYS", "XDB", "XS$NULL",
			},
			ExcludePatterns: []string{"APEX_%", "FLOWS_%"},
		},
	}
}

// LoadFilterRules reads the per-vendor YAML file at path:
//
//	postgresql:
//	  exclude_users: [rdsadmin]
//	  exclude_patterns: ["pg_%"]
//
// Vendors missing from the file keep their defaults. An empty path returns
// the defaults.
func LoadFilterRules(path string) (FilterRules, error) {
	rules := DefaultFilterRules()
	if path == "" {
		return rules, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load account filter rules %s: %w", path, err)
	}
	for _, v := range core.Vendors {
		if !k.Exists(string(v)) {
			continue
		}
		var f VendorFilter
		if err := k.Unmarshal(string(v), &f); err != nil {
			return nil, fmt.Errorf("account filter rules for %s: %w", v, err)
		}
		rules[v] = f
	}
	for _, key := range k.MapKeys("") {
		if !core.Vendor(key).Valid() {
			return nil, fmt.Errorf("account filter rules: unknown vendor %q", key)
		}
	}
	return rules, nil
}
