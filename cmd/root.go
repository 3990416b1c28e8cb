package cmd

import (
	"context"
	"fmt"
	"os"

	"migration-guard/internal/application"
	"migration-guard/internal/config"
	"migration-guard/internal/display"
	apperrors "migration-guard/internal/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Global flag variables
var (
	verbose     bool
	quiet       bool
	assumeYes   bool
	metricsAddr string

	// Display flags
	noColor       bool
	theme         string
	outputFormat  string
	tableStyle    string
	maxTableWidth int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "migration-guard",
	Short: "Safety net for one-shot data migrations",
	Long: `Migration Guard protects a one-shot data migration with complete backups,
verified rollbacks, phase checkpoints and live monitoring.

A backup captures every table of the relational database, the identity
provider's users and every object storage bucket. Checkpoints tie a backup to
a migration phase and record counts and checksums so drift can be detected
before the migration moves on. Rollbacks restore a backup in foreign key order
and verify record counts afterwards.

Examples:
  # Write a starter configuration
  migration-guard config init --path migration-guard.yaml

  # Take a backup before the cutover
  migration-guard --config migration-guard.yaml backup create --description "pre-cutover"

  # Record a checkpoint once the schema is in place
  migration-guard checkpoint create --phase schema-created --name "schema ready"

  # Gate the next phase on drift detection
  migration-guard checkpoint validate --phase schema-created

  # Inspect alerts as JSON
  migration-guard monitor history --format json`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, apperrors.FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./migration-guard.yaml)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation prompt")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while an operation runs")

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, light, high-contrast)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&tableStyle, "table-style", "default", "table style (default, rounded, compact)")
	rootCmd.PersistentFlags().IntVar(&maxTableWidth, "max-table-width", 160, "maximum table width (40-300)")

	viper.BindPFlag("monitor.metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(createVersionCommand())
}

// loadConfig reads the config file, environment and bound flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoaderWithViper(viper.GetViper()).Load(cfgFile)
	if err != nil {
		return nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = "verbose"
	case quiet:
		cfg.Logging.Level = "quiet"
	}
	return cfg, nil
}

// newPrinter builds the display printer from the global flags
func newPrinter(cmd *cobra.Command) (*display.Printer, error) {
	dc := &display.DisplayConfig{
		ColorEnabled:  !noColor,
		Theme:         theme,
		OutputFormat:  outputFormat,
		TableStyle:    tableStyle,
		MaxTableWidth: maxTableWidth,
		QuietMode:     quiet,
		AssumeYes:     assumeYes,
		Writer:        cmd.OutOrStdout(),
		Reader:        cmd.InOrStdin(),
	}
	dc.SetDefaults()
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	return display.NewPrinter(dc), nil
}

// session bundles what a command needs to run
type session struct {
	app     *application.Application
	printer *display.Printer
	ctx     context.Context
}

// withApp loads configuration, wires the application and runs fn. Signals
// cancel the context handed to fn.
func withApp(cmd *cobra.Command, fn func(s *session) error) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	app, err := application.New(contextOf(cmd), cfg, application.Options{
		LogOutput: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Close()

	ctx, cancel := app.HandleSignals(contextOf(cmd))
	defer cancel()

	return fn(&session{app: app, printer: printer, ctx: ctx})
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// confirm asks before a destructive action
func confirm(p *display.Printer, title, message string, details ...string) (bool, error) {
	dialog := p.NewConfirmationDialog(title, message).SetDestructive(true)
	for _, d := range details {
		dialog.AddDetail(d)
	}
	return dialog.Show()
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for migration-guard",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "migration-guard version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
