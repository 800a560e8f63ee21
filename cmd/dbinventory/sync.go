package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"dbinventory/internal/classify"
	"dbinventory/internal/core"
	"dbinventory/internal/syncer"

	"github.com/spf13/cobra"
)

var (
	syncAll       bool
	syncPoolSize  int
	syncBatchSize int
	syncClassify  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [instance-id...]",
	Short: "Sync accounts of the given instances, or of all active ones with --all",
	Long: "Runs one sync session in this process and waits for it to finish. " +
		"Instances locked by a running server are reported as locked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAll == (len(args) > 0) {
			return fmt.Errorf("pass instance ids or --all")
		}
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid instance id %q", arg)
			}
			ids = append(ids, id)
		}

		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		so := syncer.SyncOptions{Options: syncer.Options{PoolSize: syncPoolSize, BatchSize: syncBatchSize}}
		var sid string
		switch {
		case syncAll:
			so.Kind = core.SyncManualTask
			sid, err = a.orch.SyncAllActive(ctx, "cli", so)
		case len(ids) == 1:
			sid, err = a.orch.SyncOne(ctx, ids[0], "cli", so)
		default:
			sid, err = a.orch.SyncMany(ctx, ids, "cli", so)
		}
		if err != nil {
			return err
		}
		fmt.Printf("session %s started\n", sid)
		sess, err := a.orch.Wait(ctx, sid)
		if err != nil {
			return err
		}
		_, records, err := a.orch.Session(ctx, sid)
		if err != nil {
			return err
		}
		printSession(sess, records)

		if syncClassify {
			b, err := a.engine.Classify(ctx, classify.Scope{}, "cli")
			if b != nil {
				printBatch(b)
			}
			if err != nil {
				return err
			}
		}
		if sess.Status == core.SessionFailed {
			return fmt.Errorf("%d of %d instances failed", sess.FailedInstances, sess.TotalInstances)
		}
		return nil
	},
}

var (
	classifyInstance int64
	classifyAccounts string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run a classification batch over all accounts, one instance or a list of accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDList(classifyAccounts)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.engine.Classify(ctx, classify.Scope{InstanceID: classifyInstance, AccountIDs: ids}, "cli")
		if b != nil {
			printBatch(b)
		}
		return err
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every active instance")
	syncCmd.Flags().IntVar(&syncPoolSize, "pool-size", 0, "Concurrent instances (default from config)")
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "Accounts per transaction (default from config)")
	syncCmd.Flags().BoolVar(&syncClassify, "classify", false, "Classify all accounts after the session")

	classifyCmd.Flags().Int64Var(&classifyInstance, "instance", 0, "Limit to one instance")
	classifyCmd.Flags().StringVar(&classifyAccounts, "accounts", "", "Comma-separated account ids")
}

func printSession(s *core.SyncSession, records []core.SyncRecord) {
	fmt.Printf("session %s %s: %d ok, %d failed, %d cancelled of %d\n",
		s.ID, s.Status, s.SuccessfulInstances, s.FailedInstances, s.CancelledInstances, s.TotalInstances)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATUS\tSYNCED\tCREATED\tUPDATED\tDELETED\tTOOK\tERROR")
	for _, r := range records {
		took := "-"
		if r.StartedAt != nil && r.CompletedAt != nil {
			took = r.CompletedAt.Sub(*r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.InstanceName, r.Status, r.Synced, r.Created, r.Updated, r.Deleted, took, r.ErrorMessage)
	}
	w.Flush()
}

func printBatch(b *core.ClassificationBatch) {
	fmt.Printf("batch %s %s: %d accounts, %d matched, %d failed, %d assigned, %d revoked\n",
		b.ID, b.Status, b.TotalAccounts, b.MatchedAccounts, b.FailedAccounts, b.Details.Assigned, b.Details.Revoked)
	for _, n := range b.Details.Notes {
		fmt.Println("  note:", n)
	}
}
