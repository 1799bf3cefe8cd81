package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/insight/config"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
)

// Orchestrator drives the plan, execute, review, assemble loop for one
// question. Execution is sequential; at most MaxRevisions plan revisions and
// MaxBlockRetries per-block retries bound the loops.
type Orchestrator struct {
	config    *config.Config
	planner   *Planner
	executor  *BlockExecutor
	reviewer  *Reviewer
	text      *TextWriter
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewOrchestrator wires up the full agent pipeline.
func NewOrchestrator(cfg *config.Config, llmProvider LLMProvider, runner QueryRunner, meta MetaSource, tel *telemetry.Telemetry) *Orchestrator {
	text := NewTextWriter(cfg, llmProvider, tel)
	corrector := NewQueryCorrector(cfg, llmProvider, meta, tel)
	return &Orchestrator{
		config:    cfg,
		planner:   NewPlanner(cfg, llmProvider, meta, tel),
		executor:  NewBlockExecutor(cfg, runner, text, corrector, tel),
		reviewer:  NewReviewer(cfg, llmProvider, tel),
		text:      text,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Run executes the full workflow for one question. Every progress thought is
// passed to emit as it happens and the final report is always the last emit.
// Run never fails: unrecoverable paths produce an explanatory text report.
func (o *Orchestrator) Run(ctx context.Context, question, history string, emit func(Event)) AnalyticsReport {
	tracer := otel.Tracer("insight/agent/orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(attribute.Int("question.length", len(question)))

	runID := uuid.New().String()
	startTime := time.Now()
	if emit == nil {
		emit = func(Event) {}
	}

	var thoughtLog []string
	emitThought := func(t string) {
		thoughtLog = append(thoughtLog, t)
		emit(Event{Kind: "thought", Thought: t})
	}
	finish := func(report AnalyticsReport, success bool, revisions, blocks int, errMsg string) AnalyticsReport {
		o.telemetry.RecordRunEvent(ctx, telemetry.RunEvent{
			ID:        runID,
			Question:  question,
			StartTime: startTime,
			EndTime:   time.Now(),
			Duration:  time.Since(startTime),
			Success:   success,
			Error:     errMsg,
			Revisions: revisions,
			Blocks:    blocks,
		})
		if success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, errMsg)
		}
		emit(Event{Kind: "report", Report: &report})
		return report
	}

	maxRevisions := o.config.Agents.MaxRevisions
	var review *ReviewResult
	revisionCount := 0

	var plan ReportPlan
	var executed []ExecutedBlock
	var blockErrors []string

	for round := 0; round < 1+maxRevisions; round++ {
		// Fresh per-round state; the thought log survives across rounds.
		executed = nil
		blockErrors = nil

		var feedback *ReviewResult
		if review != nil && !review.Approved {
			feedback = review
		}

		planCtx, planSpan := tracer.Start(ctx, "orchestrator.plan")
		newPlan, err := o.planner.Plan(planCtx, question, history, feedback)
		if err != nil {
			planSpan.RecordError(err)
			planSpan.SetStatus(codes.Error, err.Error())
			planSpan.End()
			o.logger.Printf("planning failed: %v", err)
			report := earlyExitReport(
				"Response",
				"I wasn't able to plan a report for this question. Could you try rephrasing?",
				thoughtLog,
			)
			return finish(report, false, revisionCount, 0, err.Error())
		}
		planSpan.SetAttributes(attribute.Int("plan.blocks", len(newPlan.Blocks)))
		planSpan.End()
		plan = newPlan

		// Execute data blocks before text blocks so text generation can see
		// their rows. Assembly restores the planner's narrative order.
		var dataBlocks, textBlocks []BlockPlan
		for _, b := range plan.Blocks {
			if b.Spec.IsText() {
				textBlocks = append(textBlocks, b)
			} else {
				dataBlocks = append(dataBlocks, b)
			}
		}
		plan.Blocks = append(dataBlocks, textBlocks...)

		if !plan.HasDataBlocks() {
			report := o.textOnlyReport(ctx, question, history, plan, thoughtLog)
			return finish(report, true, revisionCount, len(plan.Blocks), "")
		}

		emitThought(fmt.Sprintf("Routing to %s analytics specialist.", plan.Domain))
		emitThought(fmt.Sprintf("Planning report: %s (%d blocks)", plan.SummaryTitle, len(plan.Blocks)))

		execCtx, execSpan := tracer.Start(ctx, "orchestrator.execute")
		for idx := range plan.Blocks {
			eb, thought := o.executor.ExecuteBlock(execCtx, question, history, plan, idx, executed)
			executed = append(executed, eb)
			if eb.Err != "" {
				blockErrors = append(blockErrors, fmt.Sprintf("Block %s: %s", eb.BlockID, eb.Err))
			}
			emitThought(thought)
		}
		execSpan.SetAttributes(attribute.Int("blocks.failed", len(blockErrors)))
		execSpan.End()

		reviewCtx, reviewSpan := tracer.Start(ctx, "orchestrator.review")
		result := o.reviewer.Review(reviewCtx, question, plan, executed)
		review = &result
		reviewSpan.SetAttributes(
			attribute.Int("review.score", result.QualityScore),
			attribute.Bool("review.approved", result.Approved),
		)
		reviewSpan.End()

		verdict := "approved"
		if !result.Approved {
			verdict = "revision needed"
			revisionCount++
		}
		emitThought(fmt.Sprintf("Review score: %d/5 - %s", result.QualityScore, verdict))

		if result.Approved || revisionCount >= maxRevisions {
			break
		}
	}

	report := AssembleReport(plan, thoughtLog, executed, blockErrors)
	return finish(report, true, revisionCount, len(plan.Blocks), "")
}

// textOnlyReport handles plans without data blocks. Conversational plans use
// the planner's guidance verbatim; otherwise the text oracle paraphrases it
// into a direct answer.
func (o *Orchestrator) textOnlyReport(ctx context.Context, question, history string, plan ReportPlan, thoughts []string) AnalyticsReport {
	var guidanceParts []string
	for _, block := range plan.Blocks {
		if block.Spec.IsText() && block.Spec.TextGuidance != "" {
			guidanceParts = append(guidanceParts, block.Spec.TextGuidance)
		}
	}
	guidance := strings.Join(guidanceParts, " ")
	if guidance == "" {
		guidance = plan.NarrativeStrategy
	}

	text := guidance
	if !plan.ConversationalResponse {
		generated, err := o.text.ParaphraseGuidance(ctx, question, history, guidance)
		if err != nil {
			o.logger.Printf("text-only generation failed, using guidance: %v", err)
		} else {
			text = generated
		}
	}

	return earlyExitReport(plan.SummaryTitle, text, thoughts)
}
