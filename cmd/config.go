package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath  string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate the configuration",
	Long: `Create, show and validate the configuration.

Every key can be overridden by an environment variable with the
MIGRATION_GUARD_ prefix, dots replaced by underscores:
  MIGRATION_GUARD_DATABASE_HOST=db.internal
  MIGRATION_GUARD_BACKUP_ROOT_DIR=/var/lib/migration-guard/backups`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVar(&configPath, "path", "migration-guard.yaml", "where to write the configuration")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return apperrors.NewConflictError(fmt.Sprintf("configuration file %s already exists; use --force to overwrite it", configPath))
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", configPath, err)
	}

	if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Configuration written to %s", configPath))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	redacted := *cfg
	if redacted.Database.Password != "" {
		redacted.Database.Password = "********"
	}

	if handled, emitErr := printer.Emit(redacted); handled {
		return emitErr
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	_, err = printer.Writer().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	if _, err := loadConfig(); err != nil {
		printer.Error("Configuration is invalid")
		return err
	}
	printer.Success("Configuration is valid")
	return nil
}
