// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/history"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
	"github.com/xkilldash9x/pilot-cli/internal/loop"
	"github.com/xkilldash9x/pilot-cli/internal/missionlog"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
	"github.com/xkilldash9x/pilot-cli/internal/providers/browser"
	"github.com/xkilldash9x/pilot-cli/internal/providers/terminal"
	"github.com/xkilldash9x/pilot-cli/internal/registry"
	"github.com/xkilldash9x/pilot-cli/internal/schema"
)

// newRunCommand builds the "run" subcommand: one mission, start to finish.
func newRunCommand(cfg *config.Config) *cobra.Command {
	var (
		objective       string
		autoApprove     bool
		initialProvider string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mission: the model pursues the objective through validated actions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if objective == "" {
				return fmt.Errorf("--objective is required")
			}
			if initialProvider != "" {
				cfg.Loop.InitialProvider = initialProvider
			}
			return runMission(cmd.Context(), cfg, objective, autoApprove)
		},
	}

	runCmd.Flags().StringVarP(&objective, "objective", "o", "", "what the agent should accomplish (required)")
	runCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "skip the per-action approval prompt")
	runCmd.Flags().StringVar(&initialProvider, "provider", "", "provider active at mission start (terminal or browser)")

	return runCmd
}

func runMission(ctx context.Context, cfg *config.Config, objective string, autoApprove bool) error {
	log := observability.GetLogger()

	reg := registry.New(log)
	if err := registerProviders(reg, cfg); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := reg.CloseAll(closeCtx); err != nil {
			log.Warn("Provider shutdown reported errors", zap.Error(err))
		}
	}()

	llm, err := llmclient.NewClient(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}

	sink, err := missionlog.New(ctx, cfg.MissionLog, log)
	if err != nil {
		return fmt.Errorf("failed to open mission log: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.Close(closeCtx); err != nil {
			log.Warn("Mission log close failed", zap.Error(err))
		}
	}()

	var summarizer history.Summarizer
	if cfg.History.UseModelSummaries {
		summarizer = llm
	}
	hist := history.New(history.Options{
		Window:      cfg.History.Window,
		BudgetChars: cfg.History.CompactionBudgetChars,
		Summarizer:  summarizer,
	}, log)

	var approver schemas.Approver
	if !autoApprove {
		approver = newConsoleApprover(os.Stdin, os.Stdout)
	}

	controller := loop.New(loop.Options{
		Config:     cfg.Loop,
		Objective:  objective,
		Registry:   reg,
		Generator:  schema.New(log),
		History:    hist,
		LLM:        llm,
		Approver:   approver,
		MissionLog: sink,
	}, log)

	recommendation, err := controller.Run(ctx)
	if err != nil {
		return err
	}

	printRecommendation(os.Stdout, recommendation)
	return nil
}

// registerProviders instantiates every capability provider and selects the
// configured starting one.
func registerProviders(reg *registry.Registry, cfg *config.Config) error {
	log := observability.GetLogger()

	if cfg.Loop.InitialProvider == browser.ProviderID {
		reg.Register(browser.New(cfg.Browser, log))
		reg.Register(terminal.New(cfg.Terminal, log))
	} else if cfg.Loop.InitialProvider == terminal.ProviderID {
		reg.Register(terminal.New(cfg.Terminal, log))
		reg.Register(browser.New(cfg.Browser, log))
	} else {
		return fmt.Errorf("unknown initial provider %q (want %s or %s)",
			cfg.Loop.InitialProvider, terminal.ProviderID, browser.ProviderID)
	}
	return nil
}

func printRecommendation(out io.Writer, rec *schemas.Recommendation) {
	fmt.Fprintln(out, "\n==== Recommendation ====")
	fmt.Fprintf(out, "Position: %s\n", rec.Position)
	if rec.Confidence > 0 {
		fmt.Fprintf(out, "Confidence: %.2f\n", rec.Confidence)
	}
	if len(rec.Justifications) > 0 {
		fmt.Fprintln(out, "Justifications:")
		for _, j := range rec.Justifications {
			fmt.Fprintf(out, "  - %s\n", j)
		}
	}
}
