package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestOrchestrator(llm *scriptedLLM, runner *scriptedRunner, meta MetaSource) *Orchestrator {
	return NewOrchestrator(testConfig(), llm, runner, meta, testTelemetry())
}

func collectEvents(events *[]Event) func(Event) {
	return func(e Event) { *events = append(*events, e) }
}

func TestRunHappyPath(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("planner", validPlanJSON)
	llm.reply("textgen", "Widget A leads with $100 in gross sales.")
	llm.reply("reviewer", `{"quality_score": 5, "approved": true}`)

	runner := &scriptedRunner{}
	runner.push([]map[string]any{{"fact_sales_items.gross_sales": 100}}, nil)

	orch := newTestOrchestrator(llm, runner, staticMeta{text: "meta", members: salesMembers()})

	var events []Event
	report := orch.Run(context.Background(), "top products?", "", collectEvents(&events))

	if report.SummaryTitle != "Top Products" {
		t.Fatalf("unexpected title %q", report.SummaryTitle)
	}

	wantThoughts := []string{
		"Routing to sales analytics specialist.",
		"Planning report: Top Products (2 blocks)",
		"Executed block 1/2: chart_bar (1 rows)",
		"Executed block 2/2: text",
		"Review score: 5/5 - approved",
	}
	if len(events) != len(wantThoughts)+1 {
		t.Fatalf("expected %d events, got %d: %+v", len(wantThoughts)+1, len(events), events)
	}
	for i, want := range wantThoughts {
		if events[i].Kind != "thought" || events[i].Thought != want {
			t.Fatalf("event %d: want thought %q, got %+v", i, want, events[i])
		}
	}
	last := events[len(events)-1]
	if last.Kind != "report" || last.Report == nil {
		t.Fatalf("final event must be the report, got %+v", last)
	}
	if last.Report.ReportID != report.ReportID {
		t.Fatal("emitted report differs from the returned one")
	}

	// Thoughts lead the assembled report, then chart then text.
	if report.Blocks[0].Type != BlockTypeThought {
		t.Fatalf("report must open with thoughts: %+v", report.Blocks[0])
	}
	var kinds []string
	for _, b := range report.Blocks {
		if b.Type != BlockTypeThought {
			kinds = append(kinds, b.Type)
		}
	}
	if len(kinds) != 2 || kinds[0] != BlockTypeBarChart || kinds[1] != BlockTypeText {
		t.Fatalf("unexpected rendered block order: %v", kinds)
	}
}

func TestRunRevisionLoopIsBounded(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("planner", validPlanJSON)
	llm.reply("textgen", "Summary text.")
	llm.reply("reviewer", `{"quality_score": 2, "approved": false,
	  "issues": ["weak narrative"], "revision_instructions": "Add more context."}`)

	runner := &scriptedRunner{}
	runner.push([]map[string]any{{"fact_sales_items.gross_sales": 100}}, nil)
	runner.push([]map[string]any{{"fact_sales_items.gross_sales": 100}}, nil)

	orch := newTestOrchestrator(llm, runner, staticMeta{text: "meta", members: salesMembers()})

	var events []Event
	report := orch.Run(context.Background(), "top products?", "", collectEvents(&events))

	plannerPrompts := llm.promptsFor("planner")
	if len(plannerPrompts) != 2 {
		t.Fatalf("expected 2 planning rounds, got %d", len(plannerPrompts))
	}
	if strings.Contains(plannerPrompts[0], "## Revision Required") {
		t.Fatal("first round must not carry revision feedback")
	}
	for _, want := range []string{"## Revision Required", "weak narrative", "Add more context."} {
		if !strings.Contains(plannerPrompts[1], want) {
			t.Fatalf("second planning prompt missing %q", want)
		}
	}

	var verdicts int
	for _, e := range events {
		if e.Kind == "thought" && strings.HasPrefix(e.Thought, "Review score:") {
			verdicts++
			if e.Thought != "Review score: 2/5 - revision needed" {
				t.Fatalf("unexpected verdict thought %q", e.Thought)
			}
		}
	}
	if verdicts != 2 {
		t.Fatalf("expected 2 review verdicts, got %d", verdicts)
	}

	// The run still produces the last round's report.
	if report.SummaryTitle != "Top Products" || len(report.Blocks) == 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if events[len(events)-1].Kind != "report" {
		t.Fatal("final event must be the report")
	}
}

func TestRunTextOnlyConversational(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("planner", `{"domain": "general", "summary_title": "Capabilities",
	  "narrative_strategy": "Explain what I can do.", "conversational_response": true,
	  "blocks": [{"block_id": "block_1", "type": "text", "purpose": "Answer",
	    "text_guidance": "I can analyze sales and marketing data for you."}]}`)

	orch := newTestOrchestrator(llm, &scriptedRunner{}, staticMeta{text: "meta"})

	var events []Event
	report := orch.Run(context.Background(), "what can you do?", "", collectEvents(&events))

	if len(events) != 1 || events[0].Kind != "report" {
		t.Fatalf("text-only runs emit only the report, got %+v", events)
	}
	if len(report.Blocks) != 1 || report.Blocks[0].Type != BlockTypeText {
		t.Fatalf("unexpected blocks: %+v", report.Blocks)
	}
	if report.Blocks[0].Content != "I can analyze sales and marketing data for you." {
		t.Fatalf("conversational guidance must pass through verbatim: %q", report.Blocks[0].Content)
	}
	if calls := llm.promptsFor("textgen"); len(calls) != 0 {
		t.Fatalf("conversational answers must not call the text oracle, got %d calls", len(calls))
	}
}

func TestRunTextOnlyParaphrased(t *testing.T) {
	llm := newScriptedLLM()
	llm.reply("planner", `{"domain": "sales", "summary_title": "About Returns",
	  "narrative_strategy": "Explain the returns metric.", "conversational_response": false,
	  "blocks": [{"block_id": "block_1", "type": "text", "purpose": "Explain",
	    "text_guidance": "Describe how returns are measured."}]}`)
	llm.reply("textgen", "Returns are measured as refunded line items per period.")

	orch := newTestOrchestrator(llm, &scriptedRunner{}, staticMeta{text: "meta"})

	report := orch.Run(context.Background(), "how do you measure returns?", "", nil)
	if report.Blocks[0].Content != "Returns are measured as refunded line items per period." {
		t.Fatalf("expected paraphrased answer, got %q", report.Blocks[0].Content)
	}
	prompt := llm.promptsFor("textgen")[0]
	if !strings.Contains(prompt, "Describe how returns are measured.") {
		t.Fatal("paraphrase prompt missing the planner guidance")
	}
}

func TestRunPlannerFailureProducesApology(t *testing.T) {
	llm := newScriptedLLM()
	llm.fail("planner", errors.New("model unavailable"))

	orch := newTestOrchestrator(llm, &scriptedRunner{}, staticMeta{text: "meta"})

	var events []Event
	report := orch.Run(context.Background(), "top products?", "", collectEvents(&events))

	if report.SummaryTitle != "Response" {
		t.Fatalf("unexpected title %q", report.SummaryTitle)
	}
	last := report.Blocks[len(report.Blocks)-1]
	if last.Type != BlockTypeText ||
		last.Content != "I wasn't able to plan a report for this question. Could you try rephrasing?" {
		t.Fatalf("unexpected fallback block: %+v", last)
	}
	if len(events) != 1 || events[0].Kind != "report" {
		t.Fatalf("expected only the report event, got %+v", events)
	}
}

func TestRunAllBlocksFailedStillReports(t *testing.T) {
	planJSON := `{"domain": "sales", "summary_title": "Top Products",
	  "narrative_strategy": "Rank products.",
	  "blocks": [{"block_id": "block_1", "type": "chart_bar", "purpose": "Rank",
	    "title": "Top", "category_key": "dim_product_variants.combined_name",
	    "value_key": "fact_sales_items.gross_sales",
	    "query": {"measures": ["fact_sales_items.gross_sales"],
	              "dimensions": ["dim_product_variants.combined_name"], "limit": 10}}]}`

	llm := newScriptedLLM()
	llm.reply("planner", planJSON)
	llm.fail("corrector", errors.New("model unavailable"))
	llm.reply("reviewer", `{"quality_score": 4, "approved": true}`)

	runner := &scriptedRunner{}
	runner.push(nil, errors.New("connection refused"))

	orch := newTestOrchestrator(llm, runner, staticMeta{text: "meta", members: salesMembers()})

	report := orch.Run(context.Background(), "top products?", "", nil)
	last := report.Blocks[len(report.Blocks)-1]
	if last.Type != BlockTypeText {
		t.Fatalf("expected explanatory text block, got %+v", last)
	}
	if !strings.Contains(last.Content, "I encountered errors while executing the data queries.") {
		t.Fatalf("unexpected content: %q", last.Content)
	}
	if !strings.Contains(last.Content, "Block block_1:") {
		t.Fatalf("content missing block error detail: %q", last.Content)
	}
}
