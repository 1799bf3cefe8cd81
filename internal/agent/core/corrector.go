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

// QueryCorrector asks the LLM to rewrite a rejected query
type QueryCorrector struct {
	config      *config.Config
	llmProvider LLMProvider
	meta        MetaSource
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewQueryCorrector creates a new query corrector instance
func NewQueryCorrector(cfg *config.Config, llmProvider LLMProvider, meta MetaSource, tel *telemetry.Telemetry) *QueryCorrector {
	return &QueryCorrector{
		config:      cfg,
		llmProvider: llmProvider,
		meta:        meta,
		telemetry:   tel,
		logger:      log.New(log.Writer(), "[CORRECTOR] ", log.LstdFlags),
	}
}

// Correct asks the LLM to fix a rejected query. It returns nil when no
// usable correction could be produced; callers then stop retrying.
func (c *QueryCorrector) Correct(ctx context.Context, block BlockPlan, failed cube.Query, errMsg string) *cube.QuerySpec {
	failedJSON, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return nil
	}

	prompt := fmt.Sprintf(
		"%s\n\nA Cube query failed. Fix the query based on the error and metadata.\n\n"+
			"Block purpose: %s\nBlock type: %s\n\n"+
			"Failed query:\n%s\n\nError:\n%s\n\nCube metadata:\n%s\n\n"+
			"Return a corrected query spec as a single JSON object with the fields "+
			"measures, dimensions, time_dimensions, filters, order and limit. "+
			"Use only valid member names from the metadata.",
		correctorIdentity, block.Purpose, block.Spec.Type, failedJSON, errMsg, c.meta.FormattedMeta(ctx))

	model := c.config.LLM.Routing.Correction
	callStart := time.Now()
	response, inTok, outTok, err := c.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
	})
	c.telemetry.RecordOracleEvent(ctx, telemetry.OracleEvent{
		Role:       "corrector",
		Model:      model,
		Duration:   time.Since(callStart),
		Success:    err == nil,
		Cost:       c.llmProvider.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
	})
	if err != nil {
		c.logger.Printf("query correction failed: %v", err)
		return nil
	}

	jsonStr, err := extractJSON(response)
	if err != nil {
		c.logger.Printf("query correction returned no JSON: %v", err)
		return nil
	}
	var spec cube.QuerySpec
	if err := json.Unmarshal([]byte(jsonStr), &spec); err != nil {
		c.logger.Printf("query correction returned bad JSON: %v", err)
		return nil
	}
	return &spec
}
