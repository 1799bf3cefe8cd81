package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/insight/config"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
)

// Reviewer judges whether an executed round answers the user's question
type Reviewer struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewReviewer creates a new reviewer instance
func NewReviewer(cfg *config.Config, llmProvider LLMProvider, tel *telemetry.Telemetry) *Reviewer {
	return &Reviewer{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tel,
		logger:      log.New(log.Writer(), "[REVIEWER] ", log.LstdFlags),
	}
}

// approvalThreshold is the minimum quality score for approval.
const approvalThreshold = 4

// Review scores one executed round. It never fails: if the oracle call or
// its output is unusable the round passes with a default approving verdict,
// so a flaky reviewer cannot wedge a run.
func (r *Reviewer) Review(ctx context.Context, question string, plan ReportPlan, executed []ExecutedBlock) ReviewResult {
	prompt := r.buildReviewPrompt(question, plan, executed)

	model := r.config.LLM.Routing.Review
	callStart := time.Now()
	response, inTok, outTok, err := r.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
	})
	r.telemetry.RecordOracleEvent(ctx, telemetry.OracleEvent{
		Role:       "reviewer",
		Model:      model,
		Duration:   time.Since(callStart),
		Success:    err == nil,
		Cost:       r.llmProvider.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
	})
	if err != nil {
		r.logger.Printf("review call failed, approving by default: %v", err)
		return ReviewResult{QualityScore: approvalThreshold, Approved: true}
	}

	result, err := r.parseReviewResponse(response)
	if err != nil {
		r.logger.Printf("review response unusable, approving by default: %v", err)
		return ReviewResult{QualityScore: approvalThreshold, Approved: true}
	}
	return result
}

func (r *Reviewer) buildReviewPrompt(question string, plan ReportPlan, executed []ExecutedBlock) string {
	previewRows := r.config.Agents.PreviewRows

	var summaries []string
	for _, eb := range executed {
		parts := []string{fmt.Sprintf("- **%s** (%s) - Purpose: %s", eb.BlockID, eb.Plan.Spec.Type, eb.Plan.Purpose)}
		switch {
		case eb.Err != "":
			parts = append(parts, "  ERROR: "+eb.Err)
		case eb.TextContent != "":
			parts = append(parts, "  Text content: "+eb.TextContent)
		case eb.Data != nil:
			parts = append(parts, fmt.Sprintf("  Rows: %d", len(eb.Data)))
			if len(eb.Data) > 0 {
				rows := eb.Data
				if len(rows) > previewRows {
					rows = rows[:previewRows]
				}
				if preview, err := json.Marshal(rows); err == nil {
					parts = append(parts, fmt.Sprintf("  Data preview (first %d rows): %s", previewRows, preview))
				}
			}
			if eb.Query != nil {
				if q, err := json.Marshal(eb.Query); err == nil {
					parts = append(parts, "  Query: "+string(q))
				}
			}
		default:
			parts = append(parts, "  No data")
		}
		summaries = append(summaries, strings.Join(parts, "\n"))
	}

	return fmt.Sprintf(
		"%s\n\nUser's question: %s\n\nNarrative strategy: %s\n\n"+
			"Executed blocks:\n%s\n\n"+
			"Evaluate on these criteria:\n"+
			"1. Relevance: Do the blocks answer the user's question?\n"+
			"2. Data accuracy: Are there execution errors?\n"+
			"3. Visualization fit: Are the chart types appropriate?\n"+
			"4. Completeness: Is anything missing?\n"+
			"5. Text quality: Do text blocks provide meaningful insight with specific numbers?\n\n"+
			"Reference specific data values from the previews in your assessment. "+
			"Respond with a JSON object: {\"quality_score\": 1-5, \"approved\": bool, "+
			"\"issues\": [...], \"revision_instructions\": \"...\"}. "+
			"Score from 1-5 (5 is best). Set approved=true if score >= 4. "+
			"If not approved, provide specific revision_instructions for the planner.",
		reviewerIdentity, question, plan.NarrativeStrategy, strings.Join(summaries, "\n"))
}

func (r *Reviewer) parseReviewResponse(response string) (ReviewResult, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return ReviewResult{}, err
	}
	var result ReviewResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return ReviewResult{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if result.QualityScore < 1 {
		result.QualityScore = 1
	}
	if result.QualityScore > 5 {
		result.QualityScore = 5
	}
	// Approval is derived from the score; the model's own approved flag is
	// advisory only.
	result.Approved = result.QualityScore >= approvalThreshold
	return result, nil
}
