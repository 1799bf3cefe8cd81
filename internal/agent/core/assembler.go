package core

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// AssembleReport builds the final immutable report: thoughts first, then the
// surviving executed blocks sorted back into the planner's narrative order.
// Failed blocks are dropped; if every block failed, a single explanatory text
// block takes their place.
func AssembleReport(plan ReportPlan, thoughts []string, executed []ExecutedBlock, blockErrors []string) AnalyticsReport {
	var blocks []ReportBlock
	for _, t := range thoughts {
		blocks = append(blocks, ReportBlock{Type: BlockTypeThought, Content: t})
	}

	sorted := make([]ExecutedBlock, len(executed))
	copy(sorted, executed)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BlockID < sorted[j].BlockID })

	rendered := 0
	for _, eb := range sorted {
		if eb.Err != "" {
			continue
		}
		spec := eb.Plan.Spec
		switch spec.Type {
		case BlockTypeText:
			if eb.TextContent != "" {
				blocks = append(blocks, ReportBlock{Type: BlockTypeText, Content: eb.TextContent})
				rendered++
			}
		case BlockTypeLineChart:
			if eb.Data != nil && eb.Query != nil {
				blocks = append(blocks, ReportBlock{
					Type:     BlockTypeLineChart,
					Title:    spec.Title,
					XAxisKey: spec.XAxisKey,
					YAxisKey: spec.YAxisKey,
					Query:    eb.Query,
					Data:     eb.Data,
				})
				rendered++
			}
		case BlockTypeBarChart:
			if eb.Data != nil && eb.Query != nil {
				blocks = append(blocks, ReportBlock{
					Type:        BlockTypeBarChart,
					Title:       spec.Title,
					CategoryKey: spec.CategoryKey,
					ValueKey:    spec.ValueKey,
					Query:       eb.Query,
					Data:        eb.Data,
				})
				rendered++
			}
		case BlockTypeTable:
			if eb.Data != nil && eb.Query != nil {
				columns := spec.Columns
				if len(columns) == 0 && len(eb.Data) > 0 {
					for key := range eb.Data[0] {
						columns = append(columns, key)
					}
					sort.Strings(columns)
				}
				blocks = append(blocks, ReportBlock{
					Type:    BlockTypeTable,
					Title:   spec.Title,
					Columns: columns,
					Query:   eb.Query,
					Data:    eb.Data,
				})
				rendered++
			}
		}
	}

	if rendered == 0 {
		errText := "Unknown errors"
		if len(blockErrors) > 0 {
			errText = strings.Join(blockErrors, "; ")
		}
		blocks = append(blocks, ReportBlock{
			Type: BlockTypeText,
			Content: "I encountered errors while executing the data queries. " +
				"Errors: " + errText + "\n\n" +
				"Could you try rephrasing your question?",
		})
	}

	return AnalyticsReport{
		ReportID:     uuid.New().String(),
		SummaryTitle: plan.SummaryTitle,
		Blocks:       blocks,
	}
}

// earlyExitReport builds a text-only report for short-circuit paths: planner
// failure and plans without data blocks.
func earlyExitReport(title, text string, thoughts []string) AnalyticsReport {
	var blocks []ReportBlock
	for _, t := range thoughts {
		blocks = append(blocks, ReportBlock{Type: BlockTypeThought, Content: t})
	}
	blocks = append(blocks, ReportBlock{Type: BlockTypeText, Content: text})
	return AnalyticsReport{
		ReportID:     uuid.New().String(),
		SummaryTitle: title,
		Blocks:       blocks,
	}
}
