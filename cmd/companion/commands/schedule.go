package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/companion/pkg/companion/schedule"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// newScheduleCmd creates the `companion schedule` command group for
// administrative Store access (spec.md §3 Lifecycle).
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled actions",
		Long: `Inspect and manage ScheduledActions directly, bypassing the
dialogue loop. Useful for seeding reminders before the microphone/speaker
hardware is attached.

Examples:
  companion schedule list
  companion schedule add "remind me to stretch" --in 20m
  companion schedule rm <id>`,
	}

	cmd.AddCommand(newScheduleListCmd(), newScheduleAddCmd(), newScheduleRemoveCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all scheduled actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			actions, err := st.ListAll()
			if err != nil {
				return fmt.Errorf("list actions: %w", err)
			}
			if len(actions) == 0 {
				fmt.Println("No scheduled actions.")
				return nil
			}
			for _, a := range actions {
				fmt.Printf("%s  [%s]  %s  trigger=%s  attempts=%d\n",
					a.ID, a.Status, a.Command, a.TriggerTime.Format(time.RFC3339), a.AttemptCount)
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <command>",
		Short: "Schedule a new one-shot or recurring action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetDuration("in")
			cronExpr, _ := cmd.Flags().GetString("cron")
			if cronExpr != "" {
				if err := schedule.ValidateCronExpr(cronExpr); err != nil {
					return fmt.Errorf("invalid --cron expression: %w", err)
				}
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			now := time.Now()
			action := &store.Action{
				Command:        args[0],
				TriggerTime:    now.Add(in),
				CompletionMode: store.OneShot,
			}
			if cronExpr != "" {
				nextFire, err := schedule.NextFireAfter(now, 0, cronExpr)
				if err != nil {
					return fmt.Errorf("resolve first fire time: %w", err)
				}
				action.TriggerTime = nextFire
				action.Recurring = true
				action.RecurringCron = cronExpr
			}
			id, err := st.Insert(action)
			if err != nil {
				return fmt.Errorf("insert action: %w", err)
			}
			fmt.Printf("scheduled %s → fires at %s\n", id, action.TriggerTime.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Duration("in", 10*time.Minute, "delay before a one-shot action fires")
	cmd.Flags().String("cron", "", "cron expression for a recurring action (overrides --in for the first fire time)")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a scheduled action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(args[0]); err != nil {
				return fmt.Errorf("delete action: %w", err)
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}
