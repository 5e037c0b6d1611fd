// Package vocab defines the closed set of robot action tokens.
//
// The Vocabulary is the single source of truth for what the robot can do:
// the prompt builder renders its instruction text from Entries, and the
// response parser filters model output through Lookup. Adding an action means
// adding one Entry here; both sides pick it up from the same value.
package vocab

import (
	"fmt"
	"strings"
	"unicode"
)

// Action is one member of the closed action vocabulary.
type Action string

const (
	ActionMove          Action = "move"
	ActionMoveBackwards Action = "move_backwards"
	ActionTurnLeft      Action = "turn_left"
	ActionTurnRight     Action = "turn_right"
	ActionBark          Action = "bark"
	ActionWiggle        Action = "wiggle"
	ActionSit           Action = "sit"
	ActionStand         Action = "stand"
	ActionStop          Action = "stop"
)

// Version of the default vocabulary. Bump together with defaultEntries.
const Version = "1"

// Entry pairs an action with its one-line semantics.
type Entry struct {
	Action      Action
	Description string
}

var defaultEntries = []Entry{
	{ActionMove, "Walk or run forward in the current direction."},
	{ActionMoveBackwards, "Move backward."},
	{ActionTurnLeft, "Rotate 90° (or as implied) anticlockwise on the spot."},
	{ActionTurnRight, "Rotate 90° (or as implied) clockwise on the spot."},
	{ActionBark, "Bark or make a short playful noise."},
	{ActionWiggle, "Wiggle or dance playfully in place."},
	{ActionSit, "Sit down."},
	{ActionStand, "Stand up from sitting."},
	{ActionStop, "Stop any ongoing movement."},
}

// Vocabulary is an immutable, ordered action set. Safe for concurrent use.
type Vocabulary struct {
	version string
	entries []Entry
	index   map[Action]int
}

// Default returns the robot's standard nine-action vocabulary.
func Default() *Vocabulary {
	v, err := New(Version, defaultEntries...)
	if err != nil {
		panic(fmt.Sprintf("vocab: invalid default entries: %v", err))
	}
	return v
}

// New builds a vocabulary. Action names must already be in normalized form
// and unique.
func New(version string, entries ...Entry) (*Vocabulary, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("vocabulary must contain at least one action")
	}

	v := &Vocabulary{
		version: version,
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[Action]int, len(entries)),
	}
	for _, e := range entries {
		name := string(e.Action)
		if name == "" || Normalize(name) != name {
			return nil, fmt.Errorf("action %q is not in normalized form", name)
		}
		if _, dup := v.index[e.Action]; dup {
			return nil, fmt.Errorf("duplicate action %q", name)
		}
		if strings.TrimSpace(e.Description) == "" {
			return nil, fmt.Errorf("action %q has no description", name)
		}
		v.index[e.Action] = len(v.entries)
		v.entries = append(v.entries, e)
	}
	return v, nil
}

// Normalize lower-cases s, trims it, and folds inner runs of whitespace or
// hyphens into a single underscore: " Turn  Left " -> "turn_left".
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(s))
	sep := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			sep = true
			continue
		}
		if sep && sb.Len() > 0 {
			sb.WriteByte('_')
		}
		sep = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// Lookup normalizes s and reports whether it names a known action.
func (v *Vocabulary) Lookup(s string) (Action, bool) {
	a := Action(Normalize(s))
	if _, ok := v.index[a]; !ok {
		return "", false
	}
	return a, true
}

// Contains reports whether a is a member of the vocabulary.
func (v *Vocabulary) Contains(a Action) bool {
	_, ok := v.index[a]
	return ok
}

// All enumerates the actions in canonical order.
func (v *Vocabulary) All() []Action {
	out := make([]Action, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.Action
	}
	return out
}

// Entries returns a copy of the actions with their descriptions.
func (v *Vocabulary) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Describe returns the one-line semantics of a, or "" if unknown.
func (v *Vocabulary) Describe(a Action) string {
	i, ok := v.index[a]
	if !ok {
		return ""
	}
	return v.entries[i].Description
}

// Len is the number of actions.
func (v *Vocabulary) Len() int {
	return len(v.entries)
}

// Version identifies this vocabulary revision.
func (v *Vocabulary) Version() string {
	return v.version
}
