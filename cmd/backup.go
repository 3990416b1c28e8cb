package cmd

import (
	"fmt"

	"migration-guard/internal/application"
	"migration-guard/internal/display"
	apperrors "migration-guard/internal/errors"

	"github.com/spf13/cobra"
)

var backupDescription string

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage complete backups",
	Long: `Create, list, inspect, validate and delete complete backups.

A complete backup holds three components: every database table, the identity
provider's users with their profiles, and every object storage bucket. Each
artifact is checksummed so it can be validated before a rollback.

Examples:
  # Create a backup with a description
  migration-guard backup create --description "Pre-migration backup"

  # List all backups
  migration-guard backup list

  # Validate a backup before restoring it
  migration-guard backup validate backup-20260301-090000-abcd1234`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a complete backup",
	Long: `Create a complete backup of the database, identity provider and object storage.

Individual tables, users or files that cannot be read are skipped and
reported. The backup fails when the share of skipped items exceeds the
configured failure ratio.`,
	Args: cobra.NoArgs,
	RunE: runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show the details of a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate <backup-id>",
	Short: "Verify the checksums and contents of a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupValidate,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup",
	Long: `Delete a backup from the backup root.

This permanently removes every artifact of the backup. The operation requires
confirmation unless --yes is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupDelete,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupValidateCmd)
	backupCmd.AddCommand(backupDeleteCmd)

	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		s.printer.Info("Creating backup...")

		result, outcome, err := s.app.CreateBackup(s.ctx, backupDescription)
		if result != nil {
			if rerr := renderRun(s.printer, result, outcome, func() error {
				return s.printer.BackupDetails(result)
			}); rerr != nil {
				return rerr
			}
		}
		if err != nil {
			return fmt.Errorf("backup creation failed: %w", err)
		}

		s.printer.Success(fmt.Sprintf("Backup created successfully: %s", result.BackupID))
		return nil
	})
}

func runBackupList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		backups, err := s.app.Backups.ListBackups(s.ctx)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		return s.printer.BackupList(backups)
	})
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		result, err := s.app.Backups.GetBackupDetails(s.ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.BackupDetails(result)
	})
}

func runBackupValidate(cmd *cobra.Command, args []string) error {
	backupID := args[0]
	return withApp(cmd, func(s *session) error {
		s.printer.Info(fmt.Sprintf("Validating backup: %s", backupID))

		result, err := s.app.Backups.ValidateBackupIntegrity(s.ctx, backupID)
		if err != nil {
			return fmt.Errorf("backup validation failed: %w", err)
		}
		if err := s.printer.BackupValidation(result); err != nil {
			return err
		}
		if !result.IsValid {
			return apperrors.NewValidationError(fmt.Sprintf("backup %s failed validation", backupID), result.Errors)
		}
		return nil
	})
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	backupID := args[0]
	return withApp(cmd, func(s *session) error {
		ok, err := confirm(s.printer, "Delete backup", fmt.Sprintf("Backup %s will be removed permanently.", backupID))
		if err != nil {
			return err
		}
		if !ok {
			s.printer.Info("Deletion cancelled")
			return nil
		}

		deleted, err := s.app.Backups.DeleteBackup(s.ctx, backupID)
		if err != nil {
			return fmt.Errorf("failed to delete backup: %w", err)
		}
		if !deleted {
			return apperrors.NewNotFoundError("backup", backupID)
		}

		if handled, err := s.printer.Emit(map[string]interface{}{"backup_id": backupID, "deleted": true}); handled {
			return err
		}
		s.printer.Success(fmt.Sprintf("Backup deleted: %s", backupID))
		return nil
	})
}

// runDocument is the structured form of a monitored operation
type runDocument struct {
	Result     interface{}             `json:"result"`
	Monitoring *application.RunOutcome `json:"monitoring,omitempty"`
}

// renderRun prints an operation result followed by its monitoring report.
// Structured formats get a single document holding both.
func renderRun(p *display.Printer, result interface{}, outcome *application.RunOutcome, human func() error) error {
	if ok, err := p.Emit(runDocument{Result: result, Monitoring: outcome}); ok {
		return err
	}
	if err := human(); err != nil {
		return err
	}
	if outcome != nil && outcome.Report != nil {
		if err := p.StatusReport(outcome.Report); err != nil {
			return err
		}
	}
	return nil
}
