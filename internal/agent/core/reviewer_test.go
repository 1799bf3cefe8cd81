package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestReviewParsesVerdict(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("reviewer", `Looks weak. {"quality_score": 2, "approved": false,
	  "issues": ["no trend chart"], "revision_instructions": "Add a line chart over time."}`)
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	result := reviewer.Review(context.Background(), "q", ReportPlan{}, nil)
	if result.Approved {
		t.Fatal("score 2 must not be approved")
	}
	if result.QualityScore != 2 {
		t.Fatalf("unexpected score %d", result.QualityScore)
	}
	if result.RevisionInstructions != "Add a line chart over time." {
		t.Fatalf("instructions not parsed: %+v", result)
	}
}

func TestReviewApprovalDerivedFromScore(t *testing.T) {
	// The model's own approved flag is advisory; the score decides.
	llm := newScriptedLLM()
	llm.reply("reviewer", `{"quality_score": 5, "approved": false}`)
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	result := reviewer.Review(context.Background(), "q", ReportPlan{}, nil)
	if !result.Approved || result.QualityScore != 5 {
		t.Fatalf("score 5 must approve regardless of the flag: %+v", result)
	}
}

func TestReviewClampsScore(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("reviewer", `{"quality_score": 11, "approved": true}`)
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	result := reviewer.Review(context.Background(), "q", ReportPlan{}, nil)
	if result.QualityScore != 5 {
		t.Fatalf("score not clamped: %d", result.QualityScore)
	}
}

func TestReviewDefaultsOnCallFailure(t *testing.T) {
	llm := newScriptedLLM()
	llm.fail("reviewer", errors.New("rate limited"))
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	result := reviewer.Review(context.Background(), "q", ReportPlan{}, nil)
	if !result.Approved || result.QualityScore != 4 {
		t.Fatalf("expected default approving verdict, got %+v", result)
	}
}

func TestReviewDefaultsOnUnparseableResponse(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("reviewer", "I would rate this report a solid four out of five.")
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	result := reviewer.Review(context.Background(), "q", ReportPlan{}, nil)
	if !result.Approved || result.QualityScore != 4 {
		t.Fatalf("expected default approving verdict, got %+v", result)
	}
}

func TestReviewPromptSummarizesBlocks(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("reviewer", `{"quality_score": 5, "approved": true}`)
	reviewer := NewReviewer(testConfig(), llm, testTelemetry())

	executed := []ExecutedBlock{
		{
			BlockID: "block_1",
			Plan:    dataBlockPlan("block_1"),
			Data:    []map[string]any{{"fact_sales_items.gross_sales": 100}},
		},
		{
			BlockID: "block_2",
			Plan:    textBlockPlan("block_2"),
			Err:     "query failed after 3 attempts",
		},
	}
	plan := ReportPlan{NarrativeStrategy: "rank then summarize"}
	reviewer.Review(context.Background(), "top products?", plan, executed)

	prompt := llm.promptsFor("reviewer")[0]
	for _, want := range []string{
		"User's question: top products?",
		"rank then summarize",
		"- **block_1** (chart_bar)",
		"Rows: 1",
		"Data preview",
		"ERROR: query failed after 3 attempts",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("review prompt missing %q", want)
		}
	}
}
