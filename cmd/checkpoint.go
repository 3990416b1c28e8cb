package cmd

import (
	"fmt"

	"migration-guard/internal/checkpoint"
	apperrors "migration-guard/internal/errors"

	"github.com/spf13/cobra"
)

var (
	checkpointName        string
	checkpointPhase       string
	checkpointDescription string
)

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Record and verify migration phase checkpoints",
	Long: `Record and verify migration phase checkpoints.

A checkpoint takes a complete backup and records the record count of every
table, checksums of the critical tables and the migrated share of users and
files. A newer checkpoint for the same phase supersedes the older one.
Before moving to the next phase, validate the current one: any drift in
counts marks the checkpoint as failed and blocks progression.

Phases, in order:
  initial, schema-created, data-migrated, users-migrated,
  storage-migrated, validation-complete, production-ready

Examples:
  # Record a checkpoint for a phase
  migration-guard checkpoint create --phase data-migrated --name "rows copied"

  # Gate the next phase on the recorded state
  migration-guard checkpoint validate --phase data-migrated

  # Return to a checkpoint
  migration-guard checkpoint rollback cp-20260301-090000-abcd1234 --yes`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a checkpoint for a phase",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointCreate,
}

var checkpointValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare live state with the phase's checkpoint",
	Long: `Compare live state with the phase's checkpoint.

Exits with an error when no usable checkpoint exists or drift is detected.`,
	Args: cobra.NoArgs,
	RunE: runCheckpointValidate,
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <checkpoint-id>",
	Short: "Restore the backup of a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointRollback,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointList,
}

var checkpointActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the checkpoint that stands for a phase",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointActive,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Show a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Restore checkpoint records from their file mirrors",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointReindex,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointValidateCmd)
	checkpointCmd.AddCommand(checkpointRollbackCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointActiveCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointReindexCmd)

	checkpointCreateCmd.Flags().StringVar(&checkpointName, "name", "", "checkpoint name")
	checkpointCreateCmd.Flags().StringVar(&checkpointDescription, "description", "", "checkpoint description")
	checkpointCreateCmd.MarkFlagRequired("name")

	for _, c := range []*cobra.Command{checkpointCreateCmd, checkpointValidateCmd, checkpointActiveCmd} {
		c.Flags().StringVar(&checkpointPhase, "phase", "", "migration phase")
		c.MarkFlagRequired("phase")
	}
	checkpointListCmd.Flags().StringVar(&checkpointPhase, "phase", "", "only list checkpoints of this phase")
}

// phaseFlag parses --phase; empty is allowed only when optional
func phaseFlag(optional bool) (checkpoint.Phase, error) {
	if checkpointPhase == "" && optional {
		return "", nil
	}
	return checkpoint.ParsePhase(checkpointPhase)
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	phase, err := phaseFlag(false)
	if err != nil {
		return err
	}
	return withApp(cmd, func(s *session) error {
		s.printer.Info(fmt.Sprintf("Creating checkpoint for phase %s...", phase))

		info, err := s.app.Checkpoints.CreateCheckpoint(s.ctx, checkpointName, phase, checkpointDescription)
		if err != nil {
			return fmt.Errorf("checkpoint creation failed: %w", err)
		}
		if err := s.printer.Checkpoint(info); err != nil {
			return err
		}
		s.printer.Success(fmt.Sprintf("Checkpoint created: %s", info.ID))
		return nil
	})
}

func runCheckpointValidate(cmd *cobra.Command, args []string) error {
	phase, err := phaseFlag(false)
	if err != nil {
		return err
	}
	return withApp(cmd, func(s *session) error {
		ok, err := s.app.Checkpoints.ValidateCheckpointBeforeProgression(s.ctx, phase)
		if err != nil {
			return err
		}

		// the validated checkpoint is the newest of its phase
		infos, err := s.app.Checkpoints.ListCheckpoints(s.ctx, phase)
		if err != nil {
			return err
		}
		if len(infos) > 0 {
			if err := s.printer.Checkpoint(infos[0]); err != nil {
				return err
			}
		}

		if !ok {
			return apperrors.NewValidationError(
				fmt.Sprintf("phase %s cannot progress", phase),
				[]string{"no validated checkpoint matches the current state; create a new checkpoint before progressing"},
			)
		}
		s.printer.Success(fmt.Sprintf("Phase %s validated, safe to progress", phase))
		return nil
	})
}

func runCheckpointRollback(cmd *cobra.Command, args []string) error {
	checkpointID := args[0]
	return withApp(cmd, func(s *session) error {
		info, err := s.app.Checkpoints.GetCheckpoint(s.ctx, checkpointID)
		if err != nil {
			return err
		}

		ok, err := confirm(s.printer, "Roll back to checkpoint",
			fmt.Sprintf("Restore checkpoint %s (%s) from backup %s.", info.Name, info.Phase, info.BackupID),
			fmt.Sprintf("%d table(s) will be cleared and restored", len(info.Metadata.TableCounts)),
		)
		if err != nil {
			return err
		}
		if !ok {
			s.printer.Info("Rollback cancelled")
			return nil
		}

		result := s.app.Checkpoints.RollbackToCheckpoint(s.ctx, checkpointID)
		if err := s.printer.CheckpointRollback(result); err != nil {
			return err
		}
		if !result.Success {
			return apperrors.NewAppError(apperrors.ErrorTypePartialIO,
				fmt.Sprintf("rollback to checkpoint %s did not complete", checkpointID), nil)
		}
		return nil
	})
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	phase, err := phaseFlag(true)
	if err != nil {
		return err
	}
	return withApp(cmd, func(s *session) error {
		infos, err := s.app.Checkpoints.ListCheckpoints(s.ctx, phase)
		if err != nil {
			return err
		}
		return s.printer.Checkpoints(infos)
	})
}

func runCheckpointActive(cmd *cobra.Command, args []string) error {
	phase, err := phaseFlag(false)
	if err != nil {
		return err
	}
	return withApp(cmd, func(s *session) error {
		info, err := s.app.Checkpoints.GetActiveCheckpointForPhase(s.ctx, phase)
		if err != nil {
			return err
		}
		return s.printer.Checkpoint(info)
	})
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		info, err := s.app.Checkpoints.GetCheckpoint(s.ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Checkpoint(info)
	})
}

func runCheckpointReindex(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		restored, err := s.app.Checkpoints.Reindex(s.ctx)
		if err != nil {
			return err
		}
		if handled, err := s.printer.Emit(map[string]int{"restored": restored}); handled {
			return err
		}
		s.printer.Success(fmt.Sprintf("Restored %d checkpoint record(s) from file mirrors", restored))
		return nil
	})
}
