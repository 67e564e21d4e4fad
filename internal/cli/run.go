package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/harness"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/world"
)

// FeedPath is the HTTP path the chat feed is served on.
const FeedPath = "/chat"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Feed      bool          // serve the chat feed while running
	StepDelay time.Duration // pause between steps
	Persist   bool          // keep states in the configured store
	Hold      bool          // keep serving the feed after the run until interrupted
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print its transcript",
		Long: `Run the scripts of a scenario through the engine and print what they
said and where they ended up.

States are kept in a temporary directory unless --persist is given, in
which case the configured state backend is used. With --feed, chat is
streamed as JSON to websocket clients connected to ws://<feed.address>/chat.

Example:
  scriptengine run ./scenarios/door.yaml
  scriptengine run ./scenarios/door.yaml --feed --step-delay 500ms --hold`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Feed, "feed", false, "serve the chat feed over websocket")
	cmd.Flags().DurationVar(&opts.StepDelay, "step-delay", 0, "pause between steps")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "keep script states in the configured store")
	cmd.Flags().BoolVar(&opts.Hold, "hold", false, "keep serving the feed after the run until interrupted")

	return cmd
}

func runScenarioCommand(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	hopts := harness.Options{
		Logger:    logger,
		Workers:   cfg.Engine.Workers,
		StepDelay: opts.StepDelay,
		Engine:    engineOptions(cfg.Engine),
	}

	if opts.Persist {
		st, err := state.Open(ctx, cfg.StateOptions())
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open state store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing state store", zap.Error(closeErr))
			}
		}()
		hopts.Store = st
	}

	if opts.Feed {
		feed := world.NewFeed(logger.Named("feed"))
		defer feed.Close()
		addr, stop, err := serveFeed(cfg.Feed.Address, feed, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve chat feed", err)
		}
		defer stop()
		formatter.VerboseLog("Chat feed on ws://%s%s", addr, FeedPath)
		hopts.Feed = feed
	}

	result, err := harness.Run(ctx, scenario, hopts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario run failed", err)
	}

	if err := printResult(formatter, result); err != nil {
		return err
	}

	if opts.Feed && opts.Hold {
		fmt.Fprintln(formatter.GetErrWriter(), "Serving chat feed. Press Ctrl-C to stop.")
		<-ctx.Done()
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Scenario))
	}
	return nil
}

// printResult writes the transcript and any assertion failures.
func printResult(f *OutputFormatter, result *harness.Result) error {
	if f.JSON() {
		if result.Pass {
			return f.Success(result)
		}
		return f.Failure(result)
	}

	fmt.Fprint(f.Writer, harness.FormatTranscript(result))
	if result.Pass {
		fmt.Fprintln(f.Writer, "PASS")
		return nil
	}
	fmt.Fprintln(f.Writer, "FAIL")
	for _, e := range result.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", e)
	}
	return nil
}

// serveFeed listens on addr and serves feed at FeedPath. It returns the
// bound address and a function that stops the server.
func serveFeed(addr string, feed *world.Feed, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(FeedPath, feed)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("chat feed server failed", zap.Error(err))
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
