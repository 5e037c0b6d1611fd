// Package parser validates raw model text and extracts the action sequence.
//
// Every innermost bracket group is read left to right; items inside are
// comma separated and normalized before the vocabulary lookup. Text outside
// brackets is ignored and unknown items are dropped. Items that sit in an
// enclosing group beside a nested one ("move" in "[move [sit]]") are never
// trusted as actions; they are reported as dropped.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"pupper/internal/logging"
	"pupper/internal/types"
	"pupper/internal/vocab"
)

// EmptyPolicy decides what an explicit empty list ("[]") means.
type EmptyPolicy string

const (
	// EmptyReject fails an empty list as empty_or_unparseable.
	EmptyReject EmptyPolicy = "reject"
	// EmptyAllow accepts an empty list as a valid empty sequence.
	EmptyAllow EmptyPolicy = "allow"
)

// ParseEmptyPolicy parses a config value; "" means EmptyReject.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch EmptyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", EmptyReject:
		return EmptyReject, nil
	case EmptyAllow:
		return EmptyAllow, nil
	default:
		return "", fmt.Errorf("invalid empty sequence policy %q (valid: reject, allow)", s)
	}
}

// groupPattern matches innermost bracket groups.
var groupPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)

// Result is a parse with its bookkeeping.
type Result struct {
	Sequence vocab.Sequence
	// Dropped holds the items that were not vocabulary members, as written.
	Dropped []string
	// Groups is the number of bracket groups found.
	Groups int
}

// Parser is pure and safe for concurrent use.
type Parser struct {
	vocab  *vocab.Vocabulary
	policy EmptyPolicy
}

// Option configures a Parser.
type Option func(*Parser)

// WithEmptyPolicy sets the empty-list policy.
func WithEmptyPolicy(p EmptyPolicy) Option {
	return func(ps *Parser) { ps.policy = p }
}

// New returns a parser filtering through v.
func New(v *vocab.Vocabulary, opts ...Option) *Parser {
	p := &Parser{vocab: v, policy: EmptyReject}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the configured empty-list policy.
func (p *Parser) Policy() EmptyPolicy {
	return p.policy
}

// Parse returns the recognized actions in order. Failures are
// *types.TranslationFailure at StagePublishing carrying raw.
func (p *Parser) Parse(raw string) (vocab.Sequence, error) {
	res, err := p.ParseDetailed(raw)
	if err != nil {
		return nil, err
	}
	return res.Sequence, nil
}

// ParseDetailed is Parse plus the dropped items and group count.
func (p *Parser) ParseDetailed(raw string) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		return Result{}, p.fail(types.FailureEmptyOrUnparseable, raw, "model returned no text")
	}

	groups := groupPattern.FindAllStringSubmatch(raw, -1)
	if len(groups) == 0 {
		return Result{}, p.fail(types.FailureEmptyOrUnparseable, raw, "no bracketed action list")
	}

	res := Result{Sequence: vocab.Sequence{}, Groups: len(groups)}
	items := 0
	for _, g := range groups {
		for _, item := range splitItems(g[1]) {
			items++
			if a, ok := p.vocab.Lookup(item); ok {
				res.Sequence = append(res.Sequence, a)
				continue
			}
			res.Dropped = append(res.Dropped, item)
		}
	}

	for _, item := range enclosingItems(raw) {
		items++
		res.Dropped = append(res.Dropped, item)
	}

	if len(res.Dropped) > 0 {
		logging.ParserDebug("dropped %d unknown item(s): %q", len(res.Dropped), res.Dropped)
	}

	switch {
	case items == 0:
		if p.policy == EmptyAllow {
			return res, nil
		}
		return Result{Groups: res.Groups}, p.fail(types.FailureEmptyOrUnparseable, raw, "empty action list")
	case len(res.Sequence) == 0:
		return Result{Dropped: res.Dropped, Groups: res.Groups},
			p.fail(types.FailureMalformedResponse, raw, fmt.Sprintf("no known actions in %q", res.Dropped))
	}
	return res, nil
}

// enclosingItems returns the items of bracket groups that contained nested
// groups, outermost last. Each pass collapses the innermost groups.
func enclosingItems(raw string) []string {
	var out []string
	reduced := groupPattern.ReplaceAllString(raw, ",")
	for {
		groups := groupPattern.FindAllStringSubmatch(reduced, -1)
		if len(groups) == 0 {
			return out
		}
		for _, g := range groups {
			out = append(out, splitItems(g[1])...)
		}
		reduced = groupPattern.ReplaceAllString(reduced, ",")
	}
}

func splitItems(group string) []string {
	var out []string
	for _, item := range strings.Split(group, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (p *Parser) fail(kind types.FailureKind, raw, detail string) error {
	logging.ParserWarn("%s: %s", kind, detail)
	return types.NewFailure(kind, types.StagePublishing, errors.New(detail), raw)
}
