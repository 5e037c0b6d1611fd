// Package prompt renders the model instruction for command translation.
//
// The instruction is assembled from ordered sections (task, capabilities,
// combination rule, guidelines, examples, output constraints, persona). The
// capabilities section is rendered from the vocabulary itself, so the model
// is only ever told about actions the parser will accept.
package prompt

import (
	"fmt"
	"strings"

	"pupper/internal/types"
	"pupper/internal/vocab"
)

// Example is a worked utterance -> actions pair shown to the model.
type Example struct {
	Utterance string
	Actions   vocab.Sequence
}

// DefaultPersona closes the instruction.
const DefaultPersona = "You are Pupper, a playful, responsive quadruped robot ready to act!"

// DefaultGuidelines are the interpretation rules given to the model.
var DefaultGuidelines = []string{
	"Be concise and literal in your output. Only output the list of actions, nothing else.",
	`If a command involves direction (e.g., "turn anticlockwise", "face left", "spin right"), map it to [turn_left] or [turn_right].`,
	`If a command involves emotion or expression (e.g., "be happy", "show excitement"), use [wiggle] or [bark].`,
	"If a command implies multiple steps, output them in order.",
	"Ignore irrelevant filler words or phrases; only extract the implied actions.",
	"If a command is unclear but resembles movement or behavior, make your best reasonable guess.",
}

// CombinationExamples illustrate multi-action sequences.
var CombinationExamples = []Example{
	{"come here and sit", vocab.Sequence{vocab.ActionMove, vocab.ActionSit}},
	{"walk forward, turn left, then bark twice", vocab.Sequence{vocab.ActionMove, vocab.ActionTurnLeft, vocab.ActionBark, vocab.ActionBark}},
}

// DefaultExamples are the few-shot examples.
var DefaultExamples = []Example{
	{"Walk forwards", vocab.Sequence{vocab.ActionMove}},
	{"Turn anticlockwise", vocab.Sequence{vocab.ActionTurnLeft}},
	{"Come here and wag your tail", vocab.Sequence{vocab.ActionMove, vocab.ActionWiggle}},
	{"Bark for me Pupper!", vocab.Sequence{vocab.ActionBark}},
	{"Do a little dance", vocab.Sequence{vocab.ActionWiggle}},
	{"Come forwards and turn left", vocab.Sequence{vocab.ActionMove, vocab.ActionTurnLeft}},
	{"Stop walking", vocab.Sequence{vocab.ActionStop}},
	{"Sit down then stand up", vocab.Sequence{vocab.ActionSit, vocab.ActionStand}},
}

const sectionSeparator = "\n\n---\n\n"

// Builder produces prompts for utterances. The instruction is rendered once
// at construction; Build is pure and safe for concurrent use.
type Builder struct {
	vocab       *vocab.Vocabulary
	persona     string
	guidelines  []string
	examples    []Example
	combos      []Example
	instruction string
}

// Option configures a Builder.
type Option func(*Builder)

// WithPersona replaces the closing persona line.
func WithPersona(persona string) Option {
	return func(b *Builder) { b.persona = persona }
}

// WithExamples replaces the few-shot examples.
func WithExamples(examples ...Example) Option {
	return func(b *Builder) { b.examples = append([]Example(nil), examples...) }
}

// WithCombinationExamples replaces the multi-action illustrations.
func WithCombinationExamples(examples ...Example) Option {
	return func(b *Builder) { b.combos = append([]Example(nil), examples...) }
}

// WithGuidelines replaces the interpretation guidelines.
func WithGuidelines(guidelines ...string) Option {
	return func(b *Builder) { b.guidelines = append([]string(nil), guidelines...) }
}

// NewBuilder renders the instruction for v. Every example action must be a
// member of v.
func NewBuilder(v *vocab.Vocabulary, opts ...Option) (*Builder, error) {
	if v == nil {
		return nil, fmt.Errorf("prompt builder requires a vocabulary")
	}

	b := &Builder{
		vocab:      v,
		persona:    DefaultPersona,
		guidelines: DefaultGuidelines,
		examples:   DefaultExamples,
		combos:     CombinationExamples,
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, set := range [][]Example{b.combos, b.examples} {
		for _, ex := range set {
			if err := b.checkExample(ex); err != nil {
				return nil, err
			}
		}
	}

	b.instruction = b.render()
	return b, nil
}

func (b *Builder) checkExample(ex Example) error {
	if strings.TrimSpace(ex.Utterance) == "" {
		return fmt.Errorf("example has empty utterance")
	}
	if len(ex.Actions) == 0 {
		return fmt.Errorf("example %q has no actions", ex.Utterance)
	}
	for _, a := range ex.Actions {
		if !b.vocab.Contains(a) {
			return fmt.Errorf("example %q uses unknown action %q", ex.Utterance, a)
		}
	}
	return nil
}

// Build returns the prompt for utterance. The utterance travels as its own
// user message and is never spliced into the instruction.
func (b *Builder) Build(utterance string) types.Prompt {
	return types.Prompt{
		Instruction: b.instruction,
		Utterance:   utterance,
	}
}

// Instruction returns the rendered system instruction.
func (b *Builder) Instruction() string {
	return b.instruction
}

// Vocabulary returns the vocabulary the instruction was rendered from.
func (b *Builder) Vocabulary() *vocab.Vocabulary {
	return b.vocab
}

func (b *Builder) render() string {
	sections := []string{
		b.renderTask(),
		b.renderCapabilities(),
		b.renderGuidelines(),
		b.renderExamples(),
		b.renderClosing(),
	}
	return strings.Join(sections, sectionSeparator)
}

func (b *Builder) renderTask() string {
	entries := b.vocab.Entries()
	samples := make([]string, 0, 4)
	for i := 0; i < len(entries) && i < 4; i++ {
		samples = append(samples, "["+string(entries[i].Action)+"]")
	}

	var sb strings.Builder
	sb.WriteString("Your job is to:\n")
	sb.WriteString("1. Read the user's natural language input.\n")
	sb.WriteString("2. Understand their intent.\n")
	sb.WriteString(fmt.Sprintf("3. Output the corresponding sequence of Pupper's action commands in square brackets, e.g. %s, etc.",
		strings.Join(samples, ", ")))
	return sb.String()
}

func (b *Builder) renderCapabilities() string {
	var sb strings.Builder
	sb.WriteString("### Your Capabilities\n\n")
	sb.WriteString("You can perform the following basic actions:\n\n")
	for _, e := range b.vocab.Entries() {
		sb.WriteString(fmt.Sprintf("- [%s]: %s\n", e.Action, e.Description))
	}
	if len(b.combos) > 0 {
		sb.WriteString("\nYou may combine multiple actions in sequence if the command requires it:\n")
		for _, ex := range b.combos {
			sb.WriteString(fmt.Sprintf("- e.g., %q -> %s\n", ex.Utterance, ex.Actions))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) renderGuidelines() string {
	var sb strings.Builder
	sb.WriteString("### Interpretation Guidelines\n\n")
	for _, g := range b.guidelines {
		sb.WriteString("- " + g + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) renderExamples() string {
	var sb strings.Builder
	sb.WriteString("### Examples\n")
	for _, ex := range b.examples {
		sb.WriteString(fmt.Sprintf("\n**User:** %q\n**Output:** %s\n", ex.Utterance, ex.Actions))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) renderClosing() string {
	closing := "Always respond *only* with the bracketed action list. No explanations, no text outside the brackets.\n" +
		"Use only the actions listed above."
	if b.persona != "" {
		closing += "\n\n" + b.persona
	}
	return closing
}
