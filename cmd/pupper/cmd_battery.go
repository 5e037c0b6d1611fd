package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pupper/cmd/pupper/ui"
	"pupper/internal/bus"
	"pupper/internal/regression"
)

var batteryScript []string

// batteryCmd runs a regression battery against the configured provider
var batteryCmd = &cobra.Command{
	Use:   "battery [file]",
	Short: "Run a regression battery of utterances and expected actions",
	Long: `Translates every case in a YAML battery and compares the result with the
expected action list or failure kind. Nothing is published.

  version: 1
  cases:
    - id: walk-sit
      utterance: walk forward then sit
      expect: [move, sit]
    - id: chatter
      utterance: tell me a story
      failure: empty_or_unparseable

The file defaults to battery.yaml next to the config file. The command exits
non-zero when any case fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBattery,
}

func init() {
	batteryCmd.Flags().StringArrayVar(&batteryScript, "script", nil, "Use scripted model replies instead of a provider (repeatable)")
}

func runBattery(cmd *cobra.Command, args []string) error {
	path := regression.DefaultBatteryPath(configPath)
	if len(args) == 1 {
		path = args[0]
	}
	b, err := regression.LoadBattery(path)
	if err != nil {
		return fmt.Errorf("failed to load battery: %w", err)
	}

	applyScript(batteryScript)
	if err := cfg.Validate(); err != nil {
		return err
	}

	mb := bus.NewMemoryBus()
	defer func() { _ = mb.Close() }()

	p, err := buildPipeline(cfg, mb, pipelineOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results, err := regression.RunBattery(ctx, b, p.node)
	for _, r := range results {
		line := fmt.Sprintf("%s (%dms)", r.CaseID, r.DurationMs)
		if r.Success {
			fmt.Println(ui.Success(line))
		} else {
			fmt.Println(ui.Failure(line, r.Error))
		}
	}
	if err != nil {
		return fmt.Errorf("battery interrupted: %w", err)
	}

	passed := regression.Passed(results)
	fmt.Println(ui.KeyValue("passed", fmt.Sprintf("%d/%d", passed, len(b.Cases))))
	if passed != len(b.Cases) {
		return fmt.Errorf("%d of %d cases failed", len(b.Cases)-passed, len(b.Cases))
	}
	return nil
}
