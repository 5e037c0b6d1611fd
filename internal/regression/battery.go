// Package regression runs YAML-defined translation batteries: utterances paired
// with the action sequence (or failure kind) they are expected to produce.
// Batteries are run manually or in CI to catch prompt and provider drift.
package regression

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pupper/internal/node"
	"pupper/internal/types"
	"pupper/internal/vocab"
)

// Battery is a collection of translation cases.
type Battery struct {
	Version  int    `yaml:"version"`
	FailFast bool   `yaml:"fail_fast,omitempty"`
	Cases    []Case `yaml:"cases"`
}

// Case is a single utterance and its expectation.
// Exactly one of Expect or Failure should be set; Expect may be an empty list.
type Case struct {
	ID         string   `yaml:"id"`
	Utterance  string   `yaml:"utterance"`
	Expect     []string `yaml:"expect,omitempty"`
	Failure    string   `yaml:"failure,omitempty"` // failure kind, e.g. "malformed_response"
	TimeoutSec int      `yaml:"timeout_sec,omitempty"`
}

// Result captures the outcome of one case.
type Result struct {
	CaseID     string
	Success    bool
	Got        []string
	Kind       string
	Error      string
	DurationMs int64
}

// Translator is the part of the node a battery drives.
type Translator interface {
	Translate(ctx context.Context, req types.CommandRequest) node.Outcome
}

// LoadBattery reads a YAML battery file from disk.
func LoadBattery(path string) (*Battery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse battery YAML: %w", err)
	}
	for i, c := range b.Cases {
		if strings.TrimSpace(c.Utterance) == "" {
			return nil, fmt.Errorf("case %d (%s): utterance is required", i, c.ID)
		}
		if c.Failure != "" && !types.FailureKind(c.Failure).Valid() {
			return nil, fmt.Errorf("case %d (%s): unknown failure kind %q", i, c.ID, c.Failure)
		}
	}
	return &b, nil
}

// RunBattery translates every case in order. It stops at the first mismatch
// when the battery is fail-fast, and when ctx is done.
func RunBattery(ctx context.Context, b *Battery, t Translator) ([]Result, error) {
	if b == nil || len(b.Cases) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(b.Cases))
	for i, c := range b.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		timeout := time.Duration(c.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = time.Minute
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		out := t.Translate(tctx, types.CommandRequest{
			Seq:        uint64(i + 1),
			ID:         caseID(c, i),
			Utterance:  c.Utterance,
			ReceivedAt: start,
		})
		cancel()

		res := check(c, out)
		res.CaseID = caseID(c, i)
		res.DurationMs = time.Since(start).Milliseconds()
		results = append(results, res)

		if !res.Success && b.FailFast {
			break
		}
	}
	return results, nil
}

// Passed counts successful results.
func Passed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

func check(c Case, out node.Outcome) Result {
	res := Result{Got: out.Sequence.Strings()}
	if out.Failure != nil {
		res.Kind = string(out.Failure.Kind)
	}

	switch {
	case c.Failure != "":
		if res.Kind != c.Failure {
			res.Error = fmt.Sprintf("expected failure %s, got %s", c.Failure, describe(res))
			return res
		}
	case out.Failure != nil:
		res.Error = fmt.Sprintf("expected %s, got failure %s: %v", format(c.Expect), res.Kind, out.Failure.Err)
		return res
	case !sameActions(c.Expect, res.Got):
		res.Error = fmt.Sprintf("expected %s, got %s", format(c.Expect), format(res.Got))
		return res
	}
	res.Success = true
	return res
}

func sameActions(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if vocab.Normalize(want[i]) != got[i] {
			return false
		}
	}
	return true
}

func describe(r Result) string {
	if r.Kind != "" {
		return "failure " + r.Kind
	}
	return format(r.Got)
}

func format(actions []string) string {
	return "[" + strings.Join(actions, ", ") + "]"
}

func caseID(c Case, i int) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("case-%d", i+1)
}

// DefaultBatteryPath returns the canonical battery path next to a config file.
func DefaultBatteryPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "battery.yaml")
}
