package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/insight/config"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
	"github.com/mohammad-safakhou/insight/internal/cube"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.Routing = config.LLMRoutingConfig{
		Planning:   "planner-model",
		Review:     "review-model",
		TextGen:    "text-model",
		Correction: "correction-model",
	}
	cfg.Agents = cfg.Agents.Normalize()
	return cfg
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{})
}

// scriptedLLM routes canned responses by the identity line of each prompt
// and records every prompt it saw per role.
type scriptedLLM struct {
	mu       sync.Mutex
	prompts  map[string][]string
	replies  map[string][]string
	failures map[string]error
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		prompts:  make(map[string][]string),
		replies:  make(map[string][]string),
		failures: make(map[string]error),
	}
}

func (s *scriptedLLM) role(prompt string) string {
	switch {
	case strings.Contains(prompt, "analytics report planner"):
		return "planner"
	case strings.Contains(prompt, "quality reviewer"):
		return "reviewer"
	case strings.Contains(prompt, "query correction"):
		return "corrector"
	default:
		return "textgen"
	}
}

func (s *scriptedLLM) reply(role, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[role] = append(s.replies[role], response)
}

func (s *scriptedLLM) fail(role string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[role] = err
}

func (s *scriptedLLM) promptsFor(role string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[role]...)
}

func (s *scriptedLLM) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := s.role(prompt)
	s.prompts[role] = append(s.prompts[role], prompt)
	if err, ok := s.failures[role]; ok {
		return "", 0, 0, err
	}
	queue := s.replies[role]
	if len(queue) == 0 {
		return "", 0, 0, fmt.Errorf("no scripted reply for role %s", role)
	}
	response := queue[0]
	if len(queue) > 1 {
		s.replies[role] = queue[1:]
	}
	return response, 10, 10, nil
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	response, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return response, err
}

func (s *scriptedLLM) GetAvailableModels() []string { return []string{"planner-model"} }

func (s *scriptedLLM) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model}, nil
}

func (s *scriptedLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

// staticMeta is a fixed MetaSource for tests.
type staticMeta struct {
	text    string
	members map[string]struct{}
}

func (m staticMeta) FormattedMeta(ctx context.Context) string { return m.text }

func (m staticMeta) ValidMembers(ctx context.Context) map[string]struct{} { return m.members }

// scriptedRunner replays canned load results and records queries.
type scriptedRunner struct {
	mu      sync.Mutex
	queries []cube.Query
	results []loadResult
}

type loadResult struct {
	rows []map[string]any
	err  error
}

func (r *scriptedRunner) push(rows []map[string]any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, loadResult{rows: rows, err: err})
}

func (r *scriptedRunner) Load(ctx context.Context, query cube.Query) ([]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if len(r.results) == 0 {
		return nil, fmt.Errorf("unexpected query")
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.rows, res.err
}

func (r *scriptedRunner) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// recordingSleeper captures retry backoff delays instead of sleeping.
func recordingSleeper(delays *[]time.Duration) func(ctx context.Context, d time.Duration) {
	return func(ctx context.Context, d time.Duration) {
		*delays = append(*delays, d)
	}
}

func newTestExecutor(cfg *config.Config, llm LLMProvider, runner QueryRunner, meta MetaSource) *BlockExecutor {
	tel := testTelemetry()
	text := NewTextWriter(cfg, llm, tel)
	corrector := NewQueryCorrector(cfg, llm, meta, tel)
	return NewBlockExecutor(cfg, runner, text, corrector, tel)
}

func dataBlockPlan(id string) BlockPlan {
	return BlockPlan{
		ID:      id,
		Purpose: "Rank the top products",
		Spec: BlockSpec{
			Type:        BlockTypeBarChart,
			Title:       "Top Products",
			CategoryKey: "dim_product_variants.combined_name",
			ValueKey:    "fact_sales_items.gross_sales",
			Query: &cube.QuerySpec{
				Measures:   []string{"fact_sales_items.gross_sales"},
				Dimensions: []string{"dim_product_variants.combined_name"},
				Order:      map[string]string{"fact_sales_items.gross_sales": "desc"},
				Limit:      10,
			},
		},
	}
}

func mustBuildQuery(t *testing.T, spec *cube.QuerySpec) *cube.Query {
	t.Helper()
	q, err := cube.BuildQuery(*spec)
	if err != nil {
		t.Fatalf("BuildQuery failed: %v", err)
	}
	return &q
}

func textBlockPlan(id string) BlockPlan {
	return BlockPlan{
		ID:      id,
		Purpose: "Summarize the findings",
		Spec: BlockSpec{
			Type:         BlockTypeText,
			TextGuidance: "Call out the top product.",
		},
	}
}
