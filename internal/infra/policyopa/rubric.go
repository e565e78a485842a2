// Package policyopa evaluates the reputation rubric as a rego policy, so
// the scoring table is deployment configuration rather than compiled-in
// logic.
package policyopa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"agentsync/internal/domain"

	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.agentsync.rubric.result"

// DefaultRubric mirrors the built-in static rubric: base 85 on a clean
// merge, +10 for zero review comments, -10 over five, -15 when changes were
// requested, rejections scored 20-30 by cause, clamped to [0, 100].
const DefaultRubric = `package agentsync.rubric

import rego.v1

base := 85 if input.pass
base := 30 if {
	not input.pass
	input.tests_passed
}
base := 20 if {
	not input.pass
	not input.tests_passed
}

comment_bonus := 10 if {
	input.pass
	input.review_comments == 0
}
comment_bonus := -10 if input.review_comments > 5
comment_bonus := 0 if {
	input.review_comments > 0
	input.review_comments <= 5
}

change_penalty := -15 if input.changes_requested
change_penalty := 0 if not input.changes_requested

raw := base + comment_bonus + change_penalty
clamped := 0 if raw < 0
clamped := 100 if raw > 100
clamped := raw if {
	raw >= 0
	raw <= 100
}

result := {"score": clamped}
`

type RubricResult struct {
	Score int      `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

// NewEngineFromPath compiles the rego rubric at path (file or directory).
func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	bundleHash, err := hashPath(path)
	if err != nil {
		return nil, err
	}
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{path}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rubric %s: %w", path, err)
	}
	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

// NewDefaultEngine compiles the built-in rubric.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return newEngineFromModule(ctx, "rubric.rego", DefaultRubric)
}

func newEngineFromModule(ctx context.Context, filename, module string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Module(filename, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rubric module: %w", err)
	}
	sum := sha256.Sum256([]byte(module))
	return &Engine{query: prepared, bundleHash: hex.EncodeToString(sum[:])}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

// Score evaluates the rubric for one task outcome.
func (e *Engine) Score(ctx context.Context, outcome domain.TaskOutcome) (uint8, error) {
	if e == nil {
		return 0, errors.New("rubric engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(outcome))
	if err != nil {
		return 0, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return 0, errors.New("empty rubric result")
	}
	decoded, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return 0, err
	}
	if decoded.Score < 0 {
		decoded.Score = 0
	}
	if decoded.Score > 100 {
		decoded.Score = 100
	}
	return uint8(decoded.Score), nil
}

func decodeResult(value any) (RubricResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return RubricResult{}, err
	}
	var result RubricResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return RubricResult{}, fmt.Errorf("decode rubric result: %w", err)
	}
	return result, nil
}

func hashPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		h := sha256.New()
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			payload, err := os.ReadFile(path + "/" + entry.Name())
			if err != nil {
				return "", err
			}
			h.Write([]byte(entry.Name()))
			h.Write(payload)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
