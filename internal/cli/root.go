package cli

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/config"
	"github.com/roach88/scriptengine/internal/engine"
	"github.com/roach88/scriptengine/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // config file; empty reads config.DefaultPath if present
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the scriptengine CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scriptengine",
		Short: "Run and inspect object scripts",
		Long: `scriptengine hosts Lua object scripts: each script runs one event at a
time from its own queue, changes state, fires timers and keeps its
globals across restarts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default "+config.DefaultPath+")")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))

	return cmd
}

// loadConfig reads the configuration named by --config.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newLogger builds the logger for cfg. --verbose forces debug level.
func (o *RootOptions) newLogger(cfg config.Config) (*zap.Logger, error) {
	lc := cfg.Logging
	if o.Verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	if region := cfg.RegionID(); region != uuid.Nil {
		logger = logger.With(zap.Stringer("region", region))
	}
	return logger, nil
}

// formatter creates an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// engineOptions maps the engine section of cfg to engine options.
func engineOptions(cfg config.EngineConfig) []engine.Option {
	return []engine.Option{
		engine.WithWorkers(cfg.Workers),
		engine.WithMaxScriptQueue(cfg.MaxScriptQueue),
		engine.WithMinEventDelay(cfg.MinEventDelay),
		engine.WithKillTimeout(cfg.KillTimeout),
		engine.WithCoopTermination(cfg.CoopTermination),
		engine.WithMaxErrorLength(cfg.MaxErrorLength),
	}
}
