package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/borsabridge/control-plane/internal/config"
)

// defaultURL is replaced in tests.
var defaultURL = func() string {
	return config.Load().ControlPlaneURL
}

// cli carries the persistent flags and the per-invocation client.
type cli struct {
	url     string
	timeout time.Duration
	verbose bool
	output  string
	logger  *zap.Logger
	client  *client
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	state := &cli{}
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "Operate the stock report bridge control plane",
		Long: `bridgectl drives the control plane over HTTP: it submits requests to the
report bot worker, answers disambiguation prompts, runs the analysis and
filters the resulting report.

The control plane URL defaults to CONTROL_PLANE_URL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if state.url == "" {
				return fmt.Errorf("control plane URL is empty")
			}
			state.logger = buildLogger(state.verbose, stderr)
			state.client = newClient(state.url, state.timeout, state.logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&state.url, "url", defaultURL(), "Control plane base URL")
	root.PersistentFlags().DurationVar(&state.timeout, "timeout", 10*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVarP(&state.verbose, "verbose", "v", false, "Log HTTP traffic to stderr")
	root.PersistentFlags().StringVarP(&state.output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		newSubmitCmd(state),
		newChooseCmd(state),
		newCancelCmd(state),
		newCompleteCmd(state),
		newRestartCmd(state),
		newStatusCmd(state),
		newImagesCmd(state),
		newAnalyzeCmd(state),
		newReportCmd(state),
		newFilterCmd(state),
		newBotsCmd(state),
		newKeysCmd(state),
		newLinkCmd(state),
		newWatchCmd(state),
	)
	return root
}

func buildLogger(verbose bool, stderr io.Writer) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(stderr),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}
