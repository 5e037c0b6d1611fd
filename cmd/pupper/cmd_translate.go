package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pupper/cmd/pupper/ui"
	"pupper/internal/bus"
	"pupper/internal/node"
	"pupper/internal/types"
)

var (
	translateScript  []string
	translateJSON    bool
	translatePublish bool
)

// translateCmd runs one utterance through the pipeline
var translateCmd = &cobra.Command{
	Use:   "translate [utterance]",
	Short: "Translate a single utterance and print the result",
	Long: `Runs one utterance through prompt, model call and validation and prints
the outbound payload.

With --script the model is replaced by canned replies, so no API key is
needed:

  pupper translate --script "[move] [sit]" "walk then sit"

With --publish the payload is also published on the configured bus.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringArrayVar(&translateScript, "script", nil, "Use scripted model replies instead of a provider (repeatable)")
	translateCmd.Flags().BoolVar(&translateJSON, "json", false, "Print the outcome as JSON")
	translateCmd.Flags().BoolVar(&translatePublish, "publish", false, "Publish the payload on the configured bus")
}

// translateOutput is the --json document.
type translateOutput struct {
	RequestID string            `json:"request_id"`
	Utterance string            `json:"utterance"`
	State     node.State        `json:"state"`
	Actions   []string          `json:"actions"`
	Payload   string            `json:"payload"`
	Dropped   []string          `json:"dropped,omitempty"`
	Kind      types.FailureKind `json:"kind,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Duration  string            `json:"duration"`
}

func applyScript(script []string) {
	if len(script) == 0 {
		return
	}
	cfg.LLM.Provider = "scripted"
	cfg.LLM.Script = script
}

func runTranslate(cmd *cobra.Command, args []string) error {
	applyScript(translateScript)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var b bus.Bus = bus.NewMemoryBus()
	if translatePublish {
		var err error
		b, err = bus.NewFromConfig(cfg.Bus)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}
	defer func() { _ = b.Close() }()

	p, err := buildPipeline(cfg, b, pipelineOptions{withDiagnostics: translatePublish})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	req := types.CommandRequest{Seq: 1, ID: uuid.NewString(), Utterance: joinArgs(args)}
	out, err := p.node.Handle(ctx, req)
	if err != nil {
		logger.Warn("publish failed", zap.Error(err))
	}

	return printOutcome(out)
}

func printOutcome(out node.Outcome) error {
	if translateJSON {
		doc := translateOutput{
			RequestID: out.Request.ID,
			Utterance: out.Request.Utterance,
			State:     out.State,
			Actions:   out.Sequence.Strings(),
			Payload:   out.Payload,
			Dropped:   out.Dropped,
			Duration:  out.Duration.String(),
		}
		if f := out.Failure; f != nil {
			doc.Kind = f.Kind
			doc.Detail = failureDetail(f)
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outcome: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(ui.Outcome(out))
	return nil
}

func failureDetail(f *types.TranslationFailure) string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}
