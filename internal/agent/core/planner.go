package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/insight/config"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
	"github.com/mohammad-safakhou/insight/internal/cube"
)

// Planner turns a user question into a ReportPlan
type Planner struct {
	config      *config.Config
	llmProvider LLMProvider
	meta        MetaSource
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(cfg *config.Config, llmProvider LLMProvider, meta MetaSource, tel *telemetry.Telemetry) *Planner {
	return &Planner{
		config:      cfg,
		llmProvider: llmProvider,
		meta:        meta,
		telemetry:   tel,
		logger:      log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan creates a report plan for a user question. When feedback is non-nil
// the prompt carries the reviewer's revision instructions. If the first plan
// references unknown cube members, the model is re-invoked once with the
// validation errors appended.
func (p *Planner) Plan(ctx context.Context, question, history string, feedback *ReviewResult) (ReportPlan, error) {
	startTime := time.Now()

	cubeMeta := p.meta.FormattedMeta(ctx)
	validMembers := p.meta.ValidMembers(ctx)

	prompt := buildPlannerPrompt(question, cubeMeta, history, feedback, nil)
	plan, err := p.invoke(ctx, prompt)
	if err != nil {
		return ReportPlan{}, err
	}

	if len(validMembers) > 0 {
		memberErrors := validatePlanMembers(plan, validMembers)
		if len(memberErrors) > 0 {
			p.logger.Printf("Plan has invalid member names: %v", memberErrors)
			retryPrompt := buildPlannerPrompt(question, cubeMeta, history, feedback, memberErrors)
			retryPlan, err := p.invoke(ctx, retryPrompt)
			if err != nil {
				return ReportPlan{}, err
			}
			plan = retryPlan
			if retryErrors := validatePlanMembers(plan, validMembers); len(retryErrors) > 0 {
				p.logger.Printf("Plan still has invalid members after retry: %v", retryErrors)
			}
		}
	}

	p.logger.Printf("Planning completed in %v with %d blocks", time.Since(startTime), len(plan.Blocks))
	return plan, nil
}

func (p *Planner) invoke(ctx context.Context, prompt string) (ReportPlan, error) {
	model := p.config.LLM.Routing.Planning
	callStart := time.Now()

	response, inTok, outTok, err := p.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3,
	})
	p.telemetry.RecordOracleEvent(ctx, telemetry.OracleEvent{
		Role:       "planner",
		Model:      model,
		Duration:   time.Since(callStart),
		Success:    err == nil,
		Cost:       p.llmProvider.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
	})
	if err != nil {
		return ReportPlan{}, fmt.Errorf("failed to generate plan: %w", err)
	}

	plan, err := p.parsePlanResponse(response)
	if err != nil {
		return ReportPlan{}, fmt.Errorf("failed to parse planning response: %w", err)
	}
	if err := p.ValidatePlan(plan); err != nil {
		return ReportPlan{}, fmt.Errorf("plan validation failed: %w", err)
	}
	return plan, nil
}

// parsePlanResponse parses the LLM response into a ReportPlan
func (p *Planner) parsePlanResponse(response string) (ReportPlan, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return ReportPlan{}, err
	}

	var rawPlan struct {
		Domain                 string `json:"domain"`
		SummaryTitle           string `json:"summary_title"`
		NarrativeStrategy      string `json:"narrative_strategy"`
		ConversationalResponse bool   `json:"conversational_response"`
		Blocks                 []struct {
			BlockID      flexibleID      `json:"block_id"`
			Type         string          `json:"type"`
			Purpose      string          `json:"purpose"`
			TextGuidance string          `json:"text_guidance"`
			Title        string          `json:"title"`
			XAxisKey     string          `json:"x_axis_key"`
			YAxisKey     string          `json:"y_axis_key"`
			CategoryKey  string          `json:"category_key"`
			ValueKey     string          `json:"value_key"`
			Columns      []string        `json:"columns"`
			Query        *cube.QuerySpec `json:"query"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &rawPlan); err != nil {
		return ReportPlan{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	plan := ReportPlan{
		Domain:                 rawPlan.Domain,
		SummaryTitle:           rawPlan.SummaryTitle,
		NarrativeStrategy:      rawPlan.NarrativeStrategy,
		ConversationalResponse: rawPlan.ConversationalResponse,
	}
	for i, rawBlock := range rawPlan.Blocks {
		id := string(rawBlock.BlockID)
		if id == "" {
			id = fmt.Sprintf("block_%d", i+1)
		}
		plan.Blocks = append(plan.Blocks, BlockPlan{
			ID:      id,
			Purpose: rawBlock.Purpose,
			Spec: BlockSpec{
				Type:         rawBlock.Type,
				TextGuidance: rawBlock.TextGuidance,
				Title:        rawBlock.Title,
				XAxisKey:     rawBlock.XAxisKey,
				YAxisKey:     rawBlock.YAxisKey,
				CategoryKey:  rawBlock.CategoryKey,
				ValueKey:     rawBlock.ValueKey,
				Columns:      rawBlock.Columns,
				Query:        rawBlock.Query,
			},
		})
	}
	return plan, nil
}

// flexibleID accepts both string and numeric block ids; models occasionally
// emit bare numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// ValidatePlan validates the structural shape of a plan
func (p *Planner) ValidatePlan(plan ReportPlan) error {
	if len(plan.Blocks) == 0 {
		return fmt.Errorf("plan has no blocks")
	}
	for _, block := range plan.Blocks {
		switch block.Spec.Type {
		case BlockTypeText:
		case BlockTypeLineChart, BlockTypeBarChart, BlockTypeTable:
			if block.Spec.Query == nil {
				return fmt.Errorf("block %s (%s) has no query", block.ID, block.Spec.Type)
			}
		default:
			return fmt.Errorf("invalid block type: %s", block.Spec.Type)
		}
	}
	return nil
}

// validatePlanMembers checks every data block's member names against the
// known cube members.
func validatePlanMembers(plan ReportPlan, valid map[string]struct{}) []string {
	var errs []string
	for _, block := range plan.Blocks {
		if block.Spec.IsText() || block.Spec.Query == nil {
			continue
		}
		errs = append(errs, cube.ValidateMembers(*block.Spec.Query, valid, "Block "+block.ID)...)
	}
	return errs
}
