package core

import (
	"context"

	"github.com/mohammad-safakhou/insight/internal/cube"
)

// Block type discriminators shared by plans and rendered reports.
const (
	BlockTypeThought   = "thought"
	BlockTypeText      = "text"
	BlockTypeLineChart = "chart_line"
	BlockTypeBarChart  = "chart_bar"
	BlockTypeTable     = "table"
)

// BlockSpec describes one planned block. Type selects which of the other
// fields apply: text blocks use TextGuidance, chart and table blocks carry a
// Query plus their presentation keys.
type BlockSpec struct {
	Type         string          `json:"type"`
	TextGuidance string          `json:"text_guidance,omitempty"`
	Title        string          `json:"title,omitempty"`
	XAxisKey     string          `json:"x_axis_key,omitempty"`
	YAxisKey     string          `json:"y_axis_key,omitempty"`
	CategoryKey  string          `json:"category_key,omitempty"`
	ValueKey     string          `json:"value_key,omitempty"`
	Columns      []string        `json:"columns,omitempty"`
	Query        *cube.QuerySpec `json:"query,omitempty"`
}

// IsText reports whether the block produces narrative text instead of data.
func (s BlockSpec) IsText() bool { return s.Type == BlockTypeText }

// BlockPlan is one planned report block.
type BlockPlan struct {
	ID      string    `json:"block_id"`
	Purpose string    `json:"purpose"`
	Spec    BlockSpec `json:"spec"`
}

// ReportPlan is the planner's output for one revision round.
type ReportPlan struct {
	Domain                 string      `json:"domain"`
	SummaryTitle           string      `json:"summary_title"`
	NarrativeStrategy      string      `json:"narrative_strategy"`
	Blocks                 []BlockPlan `json:"blocks"`
	ConversationalResponse bool        `json:"conversational_response"`
}

// HasDataBlocks reports whether any planned block needs a query.
func (p ReportPlan) HasDataBlocks() bool {
	for _, b := range p.Blocks {
		if !b.Spec.IsText() {
			return true
		}
	}
	return false
}

// ExecutedBlock is the immutable outcome of executing one planned block
// within a single revision round.
type ExecutedBlock struct {
	BlockID     string           `json:"block_id"`
	Plan        BlockPlan        `json:"block_plan"`
	Query       *cube.Query      `json:"cube_query,omitempty"`
	Data        []map[string]any `json:"data,omitempty"`
	TextContent string           `json:"text_content,omitempty"`
	Err         string           `json:"error,omitempty"`
}

// ReviewResult is the reviewer's verdict on one executed round.
type ReviewResult struct {
	QualityScore         int      `json:"quality_score"`
	Approved             bool     `json:"approved"`
	Issues               []string `json:"issues,omitempty"`
	RevisionInstructions string   `json:"revision_instructions,omitempty"`
}

// ReportBlock is one rendered block of the final report. Type selects which
// fields are populated; data blocks carry the resolved query and its rows.
type ReportBlock struct {
	Type        string           `json:"type"`
	Content     string           `json:"content,omitempty"`
	Title       string           `json:"title,omitempty"`
	XAxisKey    string           `json:"x_axis_key,omitempty"`
	YAxisKey    string           `json:"y_axis_key,omitempty"`
	CategoryKey string           `json:"category_key,omitempty"`
	ValueKey    string           `json:"value_key,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	Query       *cube.Query      `json:"cube_query,omitempty"`
	Data        []map[string]any `json:"data,omitempty"`
}

// AnalyticsReport is the final assembled report.
type AnalyticsReport struct {
	ReportID     string        `json:"report_id"`
	SummaryTitle string        `json:"summary_title"`
	Blocks       []ReportBlock `json:"blocks"`
}

// Event is one progress update from a run. Thought events stream while the
// run advances; the report event is always last.
type Event struct {
	Kind    string           `json:"kind"` // "thought" or "report"
	Thought string           `json:"thought,omitempty"`
	Report  *AnalyticsReport `json:"report,omitempty"`
}

// ModelInfo describes an available LLM model.
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}

// LLMProvider is the interface for language model providers.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)
	GetAvailableModels() []string
	GetModelInfo(model string) (ModelInfo, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// QueryRunner executes semantic layer queries. *cube.Client implements it.
type QueryRunner interface {
	Load(ctx context.Context, query cube.Query) ([]map[string]any, error)
}

// MetaSource supplies prompt-ready metadata and the set of valid member
// names. *cube.MetaCache implements it.
type MetaSource interface {
	FormattedMeta(ctx context.Context) string
	ValidMembers(ctx context.Context) map[string]struct{}
}
