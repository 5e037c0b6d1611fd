package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pupper/cmd/pupper/ui"
	"pupper/internal/prompt"
	"pupper/internal/store"
	"pupper/internal/types"
	"pupper/internal/vocab"
)

var (
	diagnosticsLimit int
	promptRaw        bool
)

// actionsCmd lists the action vocabulary
var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the robot action vocabulary",
	RunE:  showActions,
}

// promptCmd prints the prompt that would be sent for an utterance
var promptCmd = &cobra.Command{
	Use:   "prompt [utterance]",
	Short: "Print the system and user messages built for an utterance",
	Args:  cobra.ArbitraryArgs,
	RunE:  showPrompt,
}

// diagnosticsCmd lists stored failure records
var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "List recent translation failures from the diagnostics database",
	RunE:  showDiagnostics,
}

func init() {
	diagnosticsCmd.Flags().IntVarP(&diagnosticsLimit, "limit", "n", 20, "Number of records to show")
	promptCmd.Flags().BoolVar(&promptRaw, "raw", false, "Print the messages without styling")
}

func showActions(cmd *cobra.Command, args []string) error {
	v := vocab.Default()

	fmt.Println(ui.Title(fmt.Sprintf("Action vocabulary v%s (%d actions)", v.Version(), v.Len())))
	for _, e := range v.Entries() {
		fmt.Printf("  %-16s %s\n", ui.ActionStyle.Render(string(e.Action)), e.Description)
	}
	fmt.Println()
	fmt.Println(ui.KeyValue("wire format", vocab.Encode(vocab.Sequence{vocab.ActionMove, vocab.ActionSit})))
	return nil
}

func showPrompt(cmd *cobra.Command, args []string) error {
	b, err := prompt.NewBuilder(vocab.Default())
	if err != nil {
		return err
	}
	p := b.Build(joinArgs(args))

	for _, m := range p.Messages() {
		if promptRaw {
			fmt.Printf("=== %s ===\n%s\n\n", m.Role, m.Content)
			continue
		}
		fmt.Println(ui.Title(strings.ToUpper(string(m.Role))))
		fmt.Println(ui.Box(m.Content))
	}
	return nil
}

func showDiagnostics(cmd *cobra.Command, args []string) error {
	path := cfg.Diagnostics.DatabasePath
	if path == "" {
		fmt.Println("Diagnostics database not configured (diagnostics.database_path).")
		return nil
	}

	s, err := store.NewDiagnosticStore(path)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	counts, err := s.CountByKind(ctx)
	if err != nil {
		return err
	}
	records, err := s.Recent(ctx, diagnosticsLimit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No translation failures recorded.")
		return nil
	}

	fmt.Println(ui.Title("Failures by kind"))
	for _, k := range types.FailureKinds {
		fmt.Printf("  %-22s %d\n", k, counts[k])
	}
	fmt.Println()
	fmt.Println(ui.Title(fmt.Sprintf("Most recent %d", len(records))))
	for _, d := range records {
		fmt.Printf("  %s  seq=%-5d %s\n",
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"), d.Seq, ui.Failure(string(d.Kind), d.Detail))
		fmt.Printf("      %s\n", ui.KeyValue("utterance", fmt.Sprintf("%q", d.Utterance)))
		if d.Raw != "" {
			fmt.Printf("      %s\n", ui.KeyValue("raw", fmt.Sprintf("%q", d.Raw)))
		}
	}
	return nil
}
