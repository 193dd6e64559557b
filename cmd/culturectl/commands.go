package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/aggregation"
	"github.com/culture-survey/backend/internal/app"
	"github.com/culture-survey/backend/internal/comparison"
	"github.com/culture-survey/backend/pkg/config"
	"github.com/culture-survey/backend/pkg/logger"
)

type cli struct {
	out      io.Writer
	logLevel string
	timeout  time.Duration
	asText   bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "culturectl",
		Short:         "Operate on culture survey data in the configured store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "overall command timeout")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Round-trip a probe key through the storage backend",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(c.runHealth),
	}

	recomputeCmd := &cobra.Command{
		Use:   "recompute <session-id>",
		Short: "Recompute and store session results and domain analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  c.withApp(c.runRecompute),
	}

	compareCmd := &cobra.Command{
		Use:   "compare <session1-id> <session2-id>",
		Short: "Compare the culture distribution of two sessions",
		Args:  cobra.ExactArgs(2),
		RunE:  c.withApp(c.runCompare),
	}
	compareCmd.Flags().BoolVar(&c.asText, "text", false, "print a plain text report instead of JSON")

	deleteCmd := &cobra.Command{
		Use:   "delete-session <session-id>",
		Short: "Delete a session and all of its respondents, answers and results",
		Args:  cobra.ExactArgs(1),
		RunE:  c.withApp(c.runDeleteSession),
	}

	root.AddCommand(healthCmd, recomputeCmd, compareCmd, deleteCmd)
	return root
}

type appRunner func(ctx context.Context, a *app.App, args []string) error

// withApp loads configuration and builds the storage stack around run.
func (c *cli) withApp(run appRunner) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Init(c.logLevel, "console", "stderr"); err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
		defer cancel()

		a, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return run(ctx, a, args)
	}
}

func (c *cli) runHealth(ctx context.Context, a *app.App, _ []string) error {
	probe := a.RemoteProbe()
	if probe == nil {
		return c.print(map[string]any{"status": "healthy", "backend": a.Store.Name(), "probed": false})
	}
	if err := probe.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s backend unhealthy: %w", probe.Name(), err)
	}
	return c.print(map[string]any{"status": "healthy", "backend": probe.Name(), "probed": true})
}

func (c *cli) runRecompute(ctx context.Context, a *app.App, args []string) error {
	sessionID := args[0]

	results, err := a.Aggregation.ComputeSessionResults(ctx, sessionID)
	if errors.Is(err, aggregation.ErrNoData) {
		return c.print(map[string]any{"session_id": sessionID, "no_data": true})
	}
	if err != nil {
		return err
	}

	domains, err := a.Aggregation.ComputeDomainAnalysis(ctx, sessionID)
	if err != nil {
		return err
	}

	logger.Info("Recomputed session", zap.String("session_id", sessionID))
	return c.print(map[string]any{
		"results": results,
		"axes":    aggregation.OrderedAxes(results.RespondentBreakdown),
		"domains": domains,
	})
}

func (c *cli) runCompare(ctx context.Context, a *app.App, args []string) error {
	cmp, err := a.Comparison.CompareSessions(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if c.asText {
		_, err := io.WriteString(c.out, comparison.FormatReport(cmp))
		return err
	}
	return c.print(cmp)
}

func (c *cli) runDeleteSession(ctx context.Context, a *app.App, args []string) error {
	deleted, err := a.Repo.DeleteSession(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("session %s not found", args[0])
	}
	return c.print(map[string]any{"session_id": args[0], "deleted": true})
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
