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

// TextWriter generates narrative text for reports
type TextWriter struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewTextWriter creates a new text writer instance
func NewTextWriter(cfg *config.Config, llmProvider LLMProvider, tel *telemetry.Telemetry) *TextWriter {
	return &TextWriter{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tel,
		logger:      log.New(log.Writer(), "[TEXTGEN] ", log.LstdFlags),
	}
}

func (w *TextWriter) generate(ctx context.Context, prompt string) (string, error) {
	model := w.config.LLM.Routing.TextGen
	callStart := time.Now()

	response, inTok, outTok, err := w.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.7,
	})
	w.telemetry.RecordOracleEvent(ctx, telemetry.OracleEvent{
		Role:       "textgen",
		Model:      model,
		Duration:   time.Since(callStart),
		Success:    err == nil,
		Cost:       w.llmProvider.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// dataPreviews renders the first few rows of each prior data block as context
// for text generation.
func (w *TextWriter) dataPreviews(prior []ExecutedBlock) string {
	previewRows := w.config.Agents.PreviewRows
	var parts []string
	for _, eb := range prior {
		if len(eb.Data) == 0 {
			continue
		}
		rows := eb.Data
		if len(rows) > previewRows {
			rows = rows[:previewRows]
		}
		preview, err := json.Marshal(rows)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("Block '%s' data preview: %s", eb.Plan.Purpose, preview))
	}
	if len(parts) == 0 {
		return "No data available yet."
	}
	return strings.Join(parts, "\n")
}

// WriteBlockText generates the content of one text block, using previews of
// previously executed data blocks as grounding.
func (w *TextWriter) WriteBlockText(ctx context.Context, question, history, strategy string, block BlockPlan, prior []ExecutedBlock) (string, error) {
	guidance := block.Spec.TextGuidance
	if guidance == "" {
		guidance = "Write a clear, concise paragraph."
	}
	prompt := fmt.Sprintf(
		"%s\n\nUser's question: %s\n\nConversation history:\n%s\n\nReport context: %s\n\n"+
			"This text block's purpose: %s\nGuidance: %s\n\n"+
			"Available data from other blocks:\n%s\n\n"+
			"Write a clear, concise paragraph that directly addresses the purpose above. "+
			"Use specific numbers from the data and conversation history if available. "+
			"Do not use markdown headers.",
		textGenIdentity, question, history, strategy, block.Purpose, guidance, w.dataPreviews(prior))
	return w.generate(ctx, prompt)
}

// ParaphraseGuidance turns planner guidance into a direct answer for
// text-only reports that are not verbatim conversational responses.
func (w *TextWriter) ParaphraseGuidance(ctx context.Context, question, history, guidance string) (string, error) {
	prompt := fmt.Sprintf(
		"%s\n\nUser's question: %s\n\nConversation history:\n%s\n\nReport guidance: %s\n\n"+
			"Write a clear, concise response that directly answers the user's question. "+
			"Use specific numbers from the conversation history or guidance if available. "+
			"Do not use markdown headers.",
		textGenIdentity, question, history, guidance)
	return w.generate(ctx, prompt)
}
