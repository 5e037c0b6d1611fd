package regression

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pupper/internal/node"
	"pupper/internal/types"
	"pupper/internal/vocab"
)

// fakeTranslator answers from a map of utterance to outcome.
type fakeTranslator struct {
	replies map[string]node.Outcome
	seen    []types.CommandRequest
}

func (f *fakeTranslator) Translate(_ context.Context, req types.CommandRequest) node.Outcome {
	f.seen = append(f.seen, req)
	out, ok := f.replies[req.Utterance]
	if !ok {
		return failed(types.FailureEmptyOrUnparseable)
	}
	out.Request = req
	return out
}

func published(actions ...vocab.Action) node.Outcome {
	return node.Outcome{State: node.StatePublished, Sequence: vocab.Sequence(actions)}
}

func failed(kind types.FailureKind) node.Outcome {
	return node.Outcome{
		State:   node.StateFailed,
		Failure: types.NewFailure(kind, types.StagePublishing, errors.New("boom"), ""),
	}
}

func TestLoadBattery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battery.yaml")
	content := `version: 1
fail_fast: true
cases:
  - id: sit
    utterance: please sit down
    expect: [sit]
  - id: nonsense
    utterance: recite a poem
    failure: empty_or_unparseable
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	b, err := LoadBattery(path)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
	assert.True(t, b.FailFast)
	require.Len(t, b.Cases, 2)
	assert.Equal(t, []string{"sit"}, b.Cases[0].Expect)
	assert.Equal(t, "empty_or_unparseable", b.Cases[1].Failure)
}

func TestLoadBattery_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "cases: [", "failed to parse battery YAML"},
		{"missing utterance", "cases:\n  - id: x\n    expect: [sit]\n", "utterance is required"},
		{"unknown kind", "cases:\n  - utterance: sit\n    failure: exploded\n", "unknown failure kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "battery.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadBattery(path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadBattery(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunBattery(t *testing.T) {
	tr := &fakeTranslator{replies: map[string]node.Outcome{
		"walk and sit": published(vocab.ActionMove, vocab.ActionSit),
		"do nothing":   published(),
		"gibberish":    failed(types.FailureMalformedResponse),
	}}
	b := &Battery{Cases: []Case{
		{ID: "walk", Utterance: "walk and sit", Expect: []string{"Move", " sit"}},
		{ID: "empty", Utterance: "do nothing", Expect: []string{}},
		{ID: "bad", Utterance: "gibberish", Failure: "malformed_response"},
		{Utterance: "walk and sit", Expect: []string{"sit"}},
		{ID: "surprise", Utterance: "gibberish", Expect: []string{"sit"}},
		{ID: "missed", Utterance: "walk and sit", Failure: "gateway_unavailable"},
	}}

	results, err := RunBattery(context.Background(), b, tr)
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.True(t, results[0].Success, results[0].Error)
	assert.True(t, results[1].Success, results[1].Error)
	assert.True(t, results[2].Success, results[2].Error)
	assert.Equal(t, "malformed_response", results[2].Kind)

	assert.False(t, results[3].Success)
	assert.Equal(t, "case-4", results[3].CaseID)
	assert.Equal(t, "expected [sit], got [move, sit]", results[3].Error)

	assert.False(t, results[4].Success)
	assert.Contains(t, results[4].Error, "got failure malformed_response")

	assert.False(t, results[5].Success)
	assert.Equal(t, "expected failure gateway_unavailable, got [move, sit]", results[5].Error)

	assert.Equal(t, 3, Passed(results))
	require.Len(t, tr.seen, 6)
	assert.Equal(t, uint64(1), tr.seen[0].Seq)
	assert.Equal(t, "walk", tr.seen[0].ID)
}

func TestRunBattery_FailFast(t *testing.T) {
	tr := &fakeTranslator{replies: map[string]node.Outcome{"sit": published(vocab.ActionSit)}}
	b := &Battery{FailFast: true, Cases: []Case{
		{Utterance: "sit", Expect: []string{"sit"}},
		{Utterance: "fly", Expect: []string{"move"}},
		{Utterance: "sit", Expect: []string{"sit"}},
	}}

	results, err := RunBattery(context.Background(), b, tr)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, Passed(results))
}

func TestRunBattery_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := RunBattery(ctx, &Battery{Cases: []Case{{Utterance: "sit"}}}, &fakeTranslator{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestRunBattery_Empty(t *testing.T) {
	results, err := RunBattery(context.Background(), nil, &fakeTranslator{})
	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestDefaultBatteryPath(t *testing.T) {
	path := DefaultBatteryPath(filepath.Join("etc", "pupper", "pupper.yaml"))
	assert.Equal(t, filepath.Join("etc", "pupper", "battery.yaml"), path)
}
