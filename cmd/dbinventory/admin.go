package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dbinventory/internal/core"

	"github.com/spf13/cobra"
)

var username string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage operators",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an operator (password prompted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password")
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		u, err := a.auth.CreateUser(username, password)
		if err != nil {
			return err
		}
		fmt.Printf("User '%s' created (id %d).\n", u.Username, u.ID)
		return nil
	},
}

var userResetCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset an operator's password (interactive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("New password")
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.auth.ResetPassword(username, password); err != nil {
			return fmt.Errorf("failed to reset password: %w", err)
		}
		fmt.Printf("Password for user '%s' has been reset successfully.\n", username)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operators",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		users, err := a.auth.ListUsers()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tACTIVE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", u.ID, u.Username, u.IsActive, u.CreatedAt.Format(time.DateTime))
		}
		return w.Flush()
	},
}

var apiKeyDescription string

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for an operator; the key is shown once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		key, k, err := a.auth.GenerateApiKey(username, apiKeyDescription)
		if err != nil {
			return err
		}
		fmt.Printf("API key %d for '%s':\n%s\n", k.ID, username, key)
		return nil
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		keys, err := a.auth.ListApiKeys()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tPREFIX\tACTIVE\tLAST USED\tDESCRIPTION")
		for _, k := range keys {
			last := "never"
			if k.LastUsedAt != nil {
				last = k.LastUsedAt.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%d\t%d\t%s…\t%t\t%s\t%s\n", k.ID, k.UserID, k.KeyPrefix, k.IsActive, last, k.Description)
		}
		return w.Flush()
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke [key-id]",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.auth.RevokeApiKey(id); err != nil {
			return err
		}
		fmt.Printf("API key %d revoked.\n", id)
		return nil
	},
}

var (
	credName        string
	credUsername    string
	credDescription string
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage logins used to reach instances",
}

var credentialAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a login (password prompted, stored encrypted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password for " + credUsername)
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		c, err := a.registry.CreateCredential(cmd.Context(), credName, credUsername, password, credDescription)
		if err != nil {
			return err
		}
		fmt.Printf("Credential '%s' created (id %d).\n", c.Name, c.ID)
		return nil
	},
}

var credentialRotateCmd = &cobra.Command{
	Use:   "rotate [credential-id]",
	Short: "Replace the stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		password, err := readPassword("New password")
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.registry.RotateCredential(cmd.Context(), id, credUsername, password); err != nil {
			return err
		}
		fmt.Printf("Credential %d rotated.\n", id)
		return nil
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		creds, err := a.registry.ListCredentials(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tDESCRIPTION")
		for _, c := range creds {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.Username, c.Description)
		}
		return w.Flush()
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete [credential-id]",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.registry.DeleteCredential(cmd.Context(), id)
	},
}

var (
	instVendor string
	instHost   string
	instPort   int
	instDB     string
	instEnv    string
	instCred   int64
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage database instances",
}

var instanceAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		inst := &core.Instance{
			Name:         args[0],
			Vendor:       core.Vendor(instVendor),
			Host:         instHost,
			Port:         instPort,
			DatabaseName: instDB,
			Environment:  instEnv,
			IsActive:     true,
		}
		if instCred > 0 {
			inst.CredentialID = &instCred
		}
		if err := a.registry.CreateInstance(cmd.Context(), inst); err != nil {
			return err
		}
		fmt.Printf("Instance '%s' registered (id %d, %s:%d).\n", inst.Name, inst.ID, inst.Host, inst.Port)
		return nil
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		list, err := a.registry.ListInstances(cmd.Context(), all)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVENDOR\tADDRESS\tENV\tACTIVE\tDELETED")
		for _, i := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s:%d\t%s\t%t\t%t\n",
				i.ID, i.Name, i.Vendor, i.Host, i.Port, i.Environment, i.IsActive, i.DeletedAt != nil)
		}
		return w.Flush()
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete [instance-id]",
	Short: "Soft-delete an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.registry.DeleteInstance(cmd.Context(), id)
	},
}

func init() {
	for _, c := range []*cobra.Command{userCreateCmd, userResetCmd, apiKeyCreateCmd} {
		c.Flags().StringVarP(&username, "user", "u", "", "Operator username")
		_ = c.MarkFlagRequired("user")
	}
	userCmd.AddCommand(userCreateCmd, userResetCmd, userListCmd)

	apiKeyCreateCmd.Flags().StringVarP(&apiKeyDescription, "description", "d", "", "What the key is for")
	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyListCmd, apiKeyRevokeCmd)

	credentialAddCmd.Flags().StringVar(&credName, "name", "", "Credential name")
	credentialAddCmd.Flags().StringVar(&credUsername, "username", "", "Database login")
	credentialAddCmd.Flags().StringVar(&credDescription, "description", "", "Free text")
	_ = credentialAddCmd.MarkFlagRequired("name")
	_ = credentialAddCmd.MarkFlagRequired("username")
	credentialRotateCmd.Flags().StringVar(&credUsername, "username", "", "Replace the login name too")
	credentialCmd.AddCommand(credentialAddCmd, credentialRotateCmd, credentialListCmd, credentialDeleteCmd)

	instanceAddCmd.Flags().StringVar(&instVendor, "vendor", "", "mysql, postgresql, sqlserver or oracle")
	instanceAddCmd.Flags().StringVar(&instHost, "host", "", "Host name or IP")
	instanceAddCmd.Flags().IntVar(&instPort, "port", 0, "Port (vendor default when 0)")
	instanceAddCmd.Flags().StringVar(&instDB, "database", "", "Database or service name")
	instanceAddCmd.Flags().StringVar(&instEnv, "env", "", "production, staging, development or test")
	instanceAddCmd.Flags().Int64Var(&instCred, "credential", 0, "Credential id")
	_ = instanceAddCmd.MarkFlagRequired("vendor")
	_ = instanceAddCmd.MarkFlagRequired("host")
	instanceListCmd.Flags().Bool("all", false, "Include deleted instances")
	instanceCmd.AddCommand(instanceAddCmd, instanceListCmd, instanceDeleteCmd)
}
