package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/insight/config"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
	"github.com/mohammad-safakhou/insight/internal/cube"
)

// BlockExecutor executes planned blocks one at a time. Data blocks run
// against the semantic layer with a bounded retry budget: transient failures
// back off linearly and retry the same query, permanent failures get at most
// one LLM-corrected rewrite before the block gives up. Text blocks call the
// text oracle once with previews of earlier data blocks.
type BlockExecutor struct {
	config    *config.Config
	runner    QueryRunner
	text      *TextWriter
	corrector *QueryCorrector
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

// NewBlockExecutor creates a new block executor instance
func NewBlockExecutor(cfg *config.Config, runner QueryRunner, text *TextWriter, corrector *QueryCorrector, tel *telemetry.Telemetry) *BlockExecutor {
	return &BlockExecutor{
		config:    cfg,
		runner:    runner,
		text:      text,
		corrector: corrector,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// ExecuteBlock runs one planned block. idx and total are used only for the
// returned progress thought. prior holds the blocks already executed in this
// round, in execution order.
func (e *BlockExecutor) ExecuteBlock(ctx context.Context, question, history string, plan ReportPlan, idx int, prior []ExecutedBlock) (ExecutedBlock, string) {
	block := plan.Blocks[idx]
	position := fmt.Sprintf("Executed block %d/%d", idx+1, len(plan.Blocks))

	if block.Spec.IsText() {
		content, err := e.text.WriteBlockText(ctx, question, history, plan.NarrativeStrategy, block, prior)
		if err != nil {
			e.logger.Printf("text block %s failed: %v", block.ID, err)
			return ExecutedBlock{BlockID: block.ID, Plan: block, Err: err.Error()},
				fmt.Sprintf("%s: text (error)", position)
		}
		return ExecutedBlock{BlockID: block.ID, Plan: block, TextContent: content},
			fmt.Sprintf("%s: text", position)
	}

	return e.executeDataBlock(ctx, block, position)
}

func (e *BlockExecutor) executeDataBlock(ctx context.Context, block BlockPlan, position string) (ExecutedBlock, string) {
	query, err := cube.BuildQuery(*block.Spec.Query)
	if err != nil {
		e.logger.Printf("block %s query build failed: %v", block.ID, err)
		return ExecutedBlock{BlockID: block.ID, Plan: block, Err: fmt.Sprintf("query validation failed: %v", err)},
			fmt.Sprintf("%s: %s (validation error)", position, block.Spec.Type)
	}

	maxRetries := e.config.Agents.MaxBlockRetries
	baseDelay := e.config.Agents.BlockRetryBaseDelay
	execStart := time.Now()

	currentQuery := query
	var data []map[string]any
	var lastErr error

	attempts := 0
	for attempt := 0; attempt < 1+maxRetries; attempt++ {
		attempts++
		e.logger.Printf("executing block %s query (attempt %d)", block.ID, attempt+1)
		data, lastErr = e.runner.Load(ctx, currentQuery)
		if lastErr == nil {
			break
		}
		e.logger.Printf("block %s attempt %d failed: %v", block.ID, attempt+1, lastErr)
		if attempt >= maxRetries {
			break
		}
		if cube.IsTransient(lastErr) {
			e.sleep(ctx, baseDelay*time.Duration(attempt+1))
			continue
		}
		// Permanent rejection: one shot at an LLM rewrite, then retry the
		// corrected query or stop.
		corrected := e.corrector.Correct(ctx, block, currentQuery, lastErr.Error())
		if corrected != nil {
			if newQuery, buildErr := cube.BuildQuery(*corrected); buildErr == nil {
				currentQuery = newQuery
				continue
			}
		}
		break
	}

	e.telemetry.RecordQueryEvent(ctx, telemetry.QueryEvent{
		BlockID:  block.ID,
		Duration: time.Since(execStart),
		Success:  lastErr == nil,
		Retries:  attempts - 1,
		Rows:     len(data),
	})

	if lastErr != nil {
		return ExecutedBlock{BlockID: block.ID, Plan: block, Query: &currentQuery, Err: lastErr.Error()},
			fmt.Sprintf("%s: %s (error)", position, block.Spec.Type)
	}
	return ExecutedBlock{BlockID: block.ID, Plan: block, Query: &currentQuery, Data: data},
		fmt.Sprintf("%s: %s (%d rows)", position, block.Spec.Type, len(data))
}
