package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/app"
	"github.com/JakeFAU/profile-feedback/internal/config"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/session"
)

// errAnalysisFailed makes the process exit non-zero after the status is printed.
var errAnalysisFailed = errors.New("analysis failed")

type analyzeOptions struct {
	email    string
	demo     bool
	demoStep time.Duration
	timeout  time.Duration
}

func newAnalyzeCmd() *cobra.Command {
	opts := analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <profile-url>",
		Short: "Analyzes one profile and prints the result as JSON",
		Long: `Submits the profile URL (or reuses the id stored for it), waits until the
analysis is displayable, fails, or runs out of polling attempts, and prints
the final status. The exit code is 1 when the status is an error.

With --demo no external service is contacted: rows live in memory and a
simulated pipeline fills one section every --demo-step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "email to store with the submission")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "use an in-memory datastore and a simulated analysis pipeline")
	cmd.Flags().DurationVar(&opts.demoStep, "demo-step", 2*time.Second, "delay between simulated sections in --demo mode")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func runAnalyze(cmd *cobra.Command, url string, opts analyzeOptions) error {
	var (
		overrides map[string]any
		appOpts   []app.Option
		demo      *demoPipeline
	)
	if opts.demo {
		overrides = map[string]any{
			"datastore.kind":       config.DatastoreMemory,
			"notifier.kind":        config.NotifierNone,
			"storage.durable":      config.StorageMemory,
			"results.completeness": string(feedback.CompletenessAll),
		}
	}
	cfg, logger, err := setup(overrides)
	if err != nil {
		return err
	}
	defer syncLogger(logger)
	if opts.demo {
		demo = newDemoPipeline(opts.demoStep, logger)
		defer demo.Wait()
		appOpts = append(appOpts, app.WithDatastore(demo.Store()), app.WithNotifier(demo.Notifier()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, appOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	orch, err := a.NewSession(ctx, "cli")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer orch.Close()

	var email *string
	if opts.email != "" {
		email = &opts.email
	}
	st, waitErr := awaitResult(ctx, orch, url, email)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if waitErr != nil {
		return waitErr
	}
	if st.View == feedback.ViewError {
		logger.Error("analysis failed", zap.String("url", url), zap.String("message", st.Message))
		return errAnalysisFailed
	}
	return nil
}

// awaitResult sets url on orch and blocks until the status stops loading.
func awaitResult(ctx context.Context, orch *session.Orchestrator, url string, email *string) (feedback.Status, error) {
	updates, unsubscribe := orch.Subscribe()
	defer unsubscribe()
	orch.SetURL(url, email)

	for {
		st := orch.Status()
		if st.URL == url && !st.IsLoading {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return orch.Status(), fmt.Errorf("waiting for analysis: %w", ctx.Err())
		case _, ok := <-updates:
			if !ok {
				return orch.Status(), errors.New("session closed before the analysis finished")
			}
		}
	}
}
