package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/subwatch/subwatch/internal/ai"
	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/ingest"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/models"
	"github.com/subwatch/subwatch/internal/recon"
	"github.com/subwatch/subwatch/internal/scheduler"
	"github.com/subwatch/subwatch/internal/sources"
	"github.com/subwatch/subwatch/internal/store"
	"github.com/subwatch/subwatch/internal/telemetry"
)

var (
	flagUser      string
	flagStatus    string
	flagEmails    string
	flagBank      string
	flagSinceDays int
	flagReason    string
)

func init() {
	for _, cmd := range []*cobra.Command{scanCmd, listCmd, confirmCmd, rejectCmd, statementCmd} {
		cmd.Flags().StringVar(&flagUser, "user", "", "user id (required)")
		_ = cmd.MarkFlagRequired("user")
	}
	runCmd.Flags().StringVar(&flagUser, "user", "default", "user id for the fixture account")
	runCmd.Flags().StringVar(&flagEmails, "emails", "", "path to email fixture JSON")
	runCmd.Flags().StringVar(&flagBank, "bank", "", "path to bank transaction fixture JSON")
	scanCmd.Flags().StringVar(&flagEmails, "emails", "", "path to email fixture JSON")
	scanCmd.Flags().StringVar(&flagBank, "bank", "", "path to bank transaction fixture JSON")
	scanCmd.Flags().IntVar(&flagSinceDays, "since-days", 90, "how far back to scan")
	listCmd.Flags().StringVar(&flagStatus, "status", "", "filter by status (active|cancelled)")
	rejectCmd.Flags().StringVar(&flagReason, "reason", "", "optional rejection reason")
}

// bootstrap loads config, initializes logging, and opens the store.
func bootstrap() (*config.Config, *store.Store, *recon.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "subwatch"})

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	engine := recon.NewEngine(st.Subscriptions(), st.Ledger(), st.Potentials(), st.Emails(), cfg.Tuning)
	return cfg, st, engine, nil
}

func buildIngestor(cfg *config.Config, engine *recon.Engine) *ingest.Ingestor {
	classifier := ai.NewClient(ai.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	var emailSrc sources.EmailSource
	if flagEmails != "" {
		emailSrc = sources.NewFileEmailSource(flagEmails)
	}
	var bankSrc sources.BankSource
	if flagBank != "" {
		bankSrc = sources.NewFileBankSource(flagBank)
	}
	return ingest.New(engine, emailSrc, bankSrc, sources.TextExtractor{}, classifier, sources.LogNotifier{}, nil)
}

// fixtureProvider serves the single fixture-backed account to the runner.
type fixtureProvider struct {
	userID string
	since  time.Time
}

func (p fixtureProvider) ListDue(context.Context) ([]scheduler.UserAccount, error) {
	return []scheduler.UserAccount{{UserID: p.userID, LastSync: p.since}}, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.MetricsAddr != "" {
			go telemetry.Serve(cfg.MetricsAddr)
		}

		runner := scheduler.NewRunner(buildIngestor(cfg, engine),
			fixtureProvider{userID: flagUser, since: time.Now().AddDate(0, -6, 0)},
			cfg.UserConcurrency)

		sched := scheduler.NewIntervalScheduler(ctx)
		stopTask, err := sched.Schedule(cfg.ScanInterval.String(), func(taskCtx context.Context) {
			if _, err := runner.RunPass(taskCtx); err != nil {
				log.Error().Err(err).Msg("Reconciliation pass failed")
			}
		})
		if err != nil {
			return err
		}
		defer stopTask()

		log.Info().Dur("interval", cfg.ScanInterval).Msg("Subwatch daemon started")
		<-ctx.Done()
		log.Info().Msg("Subwatch daemon stopped")
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single reconciliation pass for one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		runner := scheduler.NewRunner(buildIngestor(cfg, engine), nil, 1)
		summary := runner.RunUser(cmd.Context(), scheduler.UserAccount{
			UserID:   flagUser,
			LastSync: time.Now().AddDate(0, 0, -flagSinceDays),
		})
		return printJSON(summary)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions with projected renewal dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		var status *models.SubscriptionStatus
		if flagStatus != "" {
			s := models.SubscriptionStatus(flagStatus)
			status = &s
		}
		subs, err := engine.ListSubscriptions(cmd.Context(), flagUser, status)
		if err != nil {
			return err
		}
		return printJSON(subs)
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <potential-id>",
	Short: "Confirm a potential subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		sub, err := engine.ConfirmPotential(cmd.Context(), flagUser, args[0])
		if err != nil {
			return err
		}
		return printJSON(sub)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <potential-id>",
	Short: "Reject a potential subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		return engine.RejectPotential(cmd.Context(), flagUser, args[0], flagReason)
	},
}

var statementCmd = &cobra.Command{
	Use:   "statement <file>",
	Short: "Apply subscription evidence from a statement text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer st.Close()

		document, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		summary, err := buildIngestor(cfg, engine).ProcessStatement(cmd.Context(), flagUser, args[0], document)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
