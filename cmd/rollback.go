package cmd

import (
	"fmt"
	"strings"

	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/rollback"

	"github.com/spf13/cobra"
)

// rollbackCmd represents the rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the system from a complete backup",
	Long: `Restore the database, identity provider and object storage from a backup.

Tables are cleared dependents first and refilled parents first, following the
foreign keys of the live database. Record counts are verified once the data
is back. Identity restores are advisory: the tool reports what could be
recreated but never writes to the identity provider.

Examples:
  # Preview the table order of a rollback
  migration-guard rollback plan backup-20260301-090000-abcd1234

  # Roll back without a prompt
  migration-guard rollback run backup-20260301-090000-abcd1234 --yes

  # Review earlier rollbacks
  migration-guard rollback history`,
}

var rollbackRunCmd = &cobra.Command{
	Use:   "run <backup-id>",
	Short: "Roll back to a backup",
	Long: `Roll back to a backup.

The backup is validated first; an invalid backup aborts the rollback before
anything is changed. Every table is cleared before data is restored, so the
command asks for confirmation unless --yes is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

var rollbackPlanCmd = &cobra.Command{
	Use:   "plan <backup-id>",
	Short: "Show the clear and insert order of a rollback",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackPlan,
}

var rollbackValidateCmd = &cobra.Command{
	Use:   "validate <backup-id>",
	Short: "Check that a backup can be rolled back to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackValidate,
}

var rollbackHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous rollbacks",
	Args:  cobra.NoArgs,
	RunE:  runRollbackHistory,
}

var rollbackShowCmd = &cobra.Command{
	Use:   "show <rollback-id>",
	Short: "Show the result of a previous rollback",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackShow,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.AddCommand(rollbackRunCmd)
	rollbackCmd.AddCommand(rollbackPlanCmd)
	rollbackCmd.AddCommand(rollbackValidateCmd)
	rollbackCmd.AddCommand(rollbackHistoryCmd)
	rollbackCmd.AddCommand(rollbackShowCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	backupID := args[0]
	return withApp(cmd, func(s *session) error {
		plan, err := s.app.Rollbacks.PlanRollback(s.ctx, backupID)
		if err != nil {
			return fmt.Errorf("failed to plan rollback: %w", err)
		}

		details := []string{
			fmt.Sprintf("%d table(s) will be cleared: %s", len(plan.ClearOrder), strings.Join(plan.ClearOrder, ", ")),
			"object storage files will be overwritten with the backed up versions",
		}
		details = append(details, plan.Warnings...)
		ok, err := confirm(s.printer, "Roll back", fmt.Sprintf("Restore the system from backup %s.", backupID), details...)
		if err != nil {
			return err
		}
		if !ok {
			s.printer.Info("Rollback cancelled")
			return nil
		}

		result, outcome, err := s.app.RollbackToBackup(s.ctx, backupID)
		if result != nil {
			if rerr := renderRun(s.printer, result, outcome, func() error {
				return s.printer.RollbackResult(result)
			}); rerr != nil {
				return rerr
			}
		}
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}

		switch result.OverallStatus {
		case rollback.StatusCompleted:
			s.printer.Success(fmt.Sprintf("Rollback %s completed", result.RollbackID))
		default:
			s.printer.Warning(fmt.Sprintf("Rollback %s finished with status %s", result.RollbackID, result.OverallStatus))
		}
		return nil
	})
}

func runRollbackPlan(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		plan, err := s.app.Rollbacks.PlanRollback(s.ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to plan rollback: %w", err)
		}
		return s.printer.RollbackPlan(plan)
	})
}

func runRollbackValidate(cmd *cobra.Command, args []string) error {
	backupID := args[0]
	return withApp(cmd, func(s *session) error {
		result, err := s.app.Rollbacks.ValidateBackupIntegrity(s.ctx, backupID)
		if err != nil {
			return err
		}
		if err := s.printer.BackupValidation(result); err != nil {
			return err
		}
		if !result.IsValid {
			return apperrors.NewValidationError(fmt.Sprintf("backup %s cannot be rolled back to", backupID), result.Errors)
		}
		return nil
	})
}

func runRollbackHistory(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		results, err := s.app.Rollbacks.ListRollbacks(s.ctx)
		if err != nil {
			return err
		}
		return s.printer.RollbackHistory(results)
	})
}

func runRollbackShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		result, err := s.app.Rollbacks.GetRollback(s.ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.RollbackResult(result)
	})
}
