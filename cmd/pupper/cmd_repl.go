package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pupper/cmd/pupper/repl"
	"pupper/internal/bus"
	"pupper/internal/logging"
	"pupper/internal/node"
	"pupper/internal/types"
)

var replScript []string

// replCmd starts the interactive prompt
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactively translate utterances",
	Long: `Opens an interactive prompt. Each line is translated with the configured
provider and the result is shown inline. Nothing is published.`,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().StringArrayVar(&replScript, "script", nil, "Use scripted model replies instead of a provider (repeatable)")
}

func runREPL(cmd *cobra.Command, args []string) error {
	applyScript(replScript)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Log output would corrupt the TUI.
	logging.Use(zap.NewNop(), nil)
	logger = zap.NewNop()

	b := bus.NewMemoryBus()
	defer func() { _ = b.Close() }()

	p, err := buildPipeline(cfg, b, pipelineOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := repl.New(ctx, replTranslator(p.node, timeout))
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return fmt.Errorf("repl failed: %w", err)
	}
	return nil
}

// replTranslator adapts the node to repl.TranslateFunc with per-call timeouts.
func replTranslator(n *node.Node, perCall time.Duration) repl.TranslateFunc {
	var seq atomic.Uint64
	return func(ctx context.Context, utterance string) node.Outcome {
		ctx, cancel := context.WithTimeout(ctx, perCall)
		defer cancel()
		return n.Translate(ctx, types.CommandRequest{
			Seq:        seq.Add(1),
			ID:         uuid.NewString(),
			Utterance:  utterance,
			ReceivedAt: time.Now(),
		})
	}
}
