// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/service"
	"github.com/webpilot-ai/webpilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	runURL        string
	runGoal       string
	runScript     string
	runUser       string
	runMaxSteps   int
	runScreenshot string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open a guarded browser session and drive it toward a goal",
	Long: `Opens a headless browser session, navigates to the given URL, and either
prints the page text or, when --goal is set and the agent is enabled in the
config, lets the navigation planner drive the session until the goal is met.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runURL, "url", "u", "", "initial URL to open (required)")
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "navigation goal for the AI planner")
	runCmd.Flags().StringVarP(&runScript, "script", "s", "", "JSON file with a list of actions to execute")
	runCmd.Flags().StringVar(&runUser, "user", "cli", "user id charged for the session")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 10, "maximum planner steps before giving up")
	runCmd.Flags().StringVar(&runScreenshot, "screenshot", "", "write a final screenshot to this file")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit, persister, drain, err := buildSinks(ctx, logger)
	if err != nil {
		return err
	}
	defer drain()

	svc := service.New(cfg, audit, persister, logger)
	defer func() {
		// The registry bounds an unbounded shutdown by its own grace period.
		if err := svc.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutdown did not complete cleanly", zap.Error(err))
		}
	}()

	sessionID, err := svc.CreateSession(ctx, runUser, browser.CreateOptions{
		URL:               runURL,
		NavigationEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info("Session created", zap.String("session_id", sessionID), zap.String("url", runURL))

	switch {
	case runGoal != "":
		if !cfg.Agent.Enabled {
			return fmt.Errorf("--goal requires agent.enabled in the config")
		}
		if err := runGoalLoop(ctx, svc, audit, sessionID, logger); err != nil {
			return err
		}
	case runScript != "":
		if err := runActionScript(ctx, svc, sessionID); err != nil {
			return err
		}
	default:
		res := svc.ExecuteAction(ctx, sessionID, schemas.NewExtractAction("body"))
		if !res.Success {
			return fmt.Errorf("failed to read page: %s", res.Error)
		}
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(res.Data, &payload); err != nil {
			return fmt.Errorf("unexpected extract payload: %w", err)
		}
		fmt.Println(payload.Text)
	}

	if runScreenshot != "" {
		if err := writeScreenshot(ctx, svc, sessionID); err != nil {
			return err
		}
		logger.Info("Screenshot written", zap.String("path", runScreenshot))
	}

	return svc.CloseSession(ctx, sessionID)
}

// buildSinks returns the audit sink and persister, backed by PostgreSQL when
// the database is enabled and by no-ops otherwise. The returned drain must be
// called before exit so in-flight writes land.
func buildSinks(ctx context.Context, logger *zap.Logger) (executor.AuditSink, service.Persister, func(), error) {
	if !cfg.Database.Enabled {
		return executor.NopSink{}, service.NopPersister{}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	async := store.NewAsync(st, logger)
	drain := func() {
		async.Drain()
		pool.Close()
	}
	return async, async, drain, nil
}

// runActionScript executes a JSON list of actions in order, printing one
// result per line. A non-retryable failure stops the script.
func runActionScript(ctx context.Context, svc *service.Service, sessionID string) error {
	raw, err := os.ReadFile(runScript)
	if err != nil {
		return fmt.Errorf("failed to read action script: %w", err)
	}

	var actions []schemas.Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return fmt.Errorf("action script is not a JSON action list: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for i, action := range actions {
		res := svc.ExecuteAction(ctx, sessionID, action)
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success && !res.ErrorKind.Retryable() {
			return fmt.Errorf("script stopped at step %d: %s (%s)", i+1, res.Error, res.ErrorKind)
		}
	}
	return nil
}

// runGoalLoop lets the planner drive the session, one screened action per
// step, until it reports completion or the step budget runs out.
func runGoalLoop(ctx context.Context, svc *service.Service, audit executor.AuditSink, sessionID string, logger *zap.Logger) error {
	model, err := agent.NewGeminiCaller(ctx, cfg.Agent, logger)
	if err != nil {
		return err
	}
	planner := agent.NewPlanner(model, svc.Screener(), audit, cfg.Security.DenyHosts, cfg.Agent.MaxPageExcerpt, logger)

	for step := 1; step <= runMaxSteps; step++ {
		page, err := observePage(ctx, svc, sessionID)
		if err != nil {
			return err
		}

		plan, err := planner.PlanNextAction(ctx, runUser, sessionID, runGoal, page)
		if err != nil {
			return err
		}
		if plan.Done {
			logger.Info("Goal reached", zap.Int("steps", step-1), zap.String("reason", plan.Reason))
			fmt.Println(plan.Reason)
			return nil
		}

		logger.Info("Executing planned action",
			zap.Int("step", step),
			zap.String("kind", string(plan.Action.Kind)),
			zap.String("reason", plan.Reason),
		)
		res := svc.ExecuteAction(ctx, sessionID, plan.Action)
		if !res.Success && !res.ErrorKind.Retryable() {
			return fmt.Errorf("step %d failed: %s (%s)", step, res.Error, res.ErrorKind)
		}
	}
	return fmt.Errorf("goal not reached within %d steps", runMaxSteps)
}

// observePage gathers the URL, title, and visible text the planner prompts
// with. It goes through the executor so the observation is screened, paced,
// and billed like any other action.
func observePage(ctx context.Context, svc *service.Service, sessionID string) (agent.PageObservation, error) {
	res := svc.ExecuteAction(ctx, sessionID, schemas.NewEvaluateAction(
		`JSON.stringify({url: location.href, title: document.title})`,
	))
	if !res.Success {
		return agent.PageObservation{}, fmt.Errorf("failed to observe page: %s", res.Error)
	}
	var wrapped string
	if err := json.Unmarshal(res.Data, &wrapped); err != nil {
		return agent.PageObservation{}, fmt.Errorf("unexpected evaluate payload: %w", err)
	}
	var obs struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(wrapped), &obs); err != nil {
		return agent.PageObservation{}, fmt.Errorf("unexpected page state: %w", err)
	}

	text := ""
	if extract := svc.ExecuteAction(ctx, sessionID, schemas.NewExtractAction("body")); extract.Success {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(extract.Data, &payload); err == nil {
			text = payload.Text
		}
	}

	return agent.PageObservation{URL: obs.URL, Title: obs.Title, TextExcerpt: text}, nil
}

func writeScreenshot(ctx context.Context, svc *service.Service, sessionID string) error {
	res := svc.ExecuteAction(ctx, sessionID, schemas.NewScreenshotAction())
	if !res.Success {
		return fmt.Errorf("screenshot failed: %s", res.Error)
	}
	var payload struct {
		Screenshot []byte `json:"screenshot"`
	}
	if err := json.Unmarshal(res.Data, &payload); err != nil {
		return fmt.Errorf("unexpected screenshot payload: %w", err)
	}
	return os.WriteFile(runScreenshot, payload.Screenshot, 0o644)
}
