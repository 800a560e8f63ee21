package main

import (
	"fmt"
	"os"
	"runtime"

	"dbinventory/internal/config"

	"github.com/spf13/cobra"
)

var (
	configFile string
	// Set at build time with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dbinventory",
	Short: "Database account inventory and privilege classification",
	Long: "dbinventory collects accounts and privileges from MySQL, PostgreSQL, SQL Server and Oracle " +
		"instances, keeps a change-tracked inventory and classifies accounts by risk.\n\n" +
		"Run without a subcommand to start the server.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dbinventory %s (commit %s)\n", Version, GitCommit)
		fmt.Printf("Go version: %s, OS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (overrides "+config.ConfigPathEnvVar+")")
	cobra.OnInitialize(func() {
		if configFile != "" {
			os.Setenv(config.ConfigPathEnvVar, configFile)
		}
	})

	rootCmd.AddCommand(versionCmd, serveCmd, syncCmd, classifyCmd, userCmd, apiKeyCmd,
		credentialCmd, instanceCmd, jobsCmd)
}

func main() {
	if isRunningAsService() {
		runAsService()
		return
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
