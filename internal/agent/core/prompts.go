package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

const fewShotExamples = `## Examples

### Example 1 — Trend question (line chart WITH granularity)
Question: "How has our ad spend trended over the last 6 months?"
` + "```json" + `
{
  "domain": "marketing",
  "summary_title": "Ad Spend Trend - Last 6 Months",
  "narrative_strategy": "Show the monthly ad spend trend with a line chart, preceded by a brief summary.",
  "conversational_response": false,
  "blocks": [
    {"block_id": "block_1", "type": "text", "purpose": "Summarize the overall ad spend trend",
     "text_guidance": "Describe the overall ad spend trajectory over the past 6 months."},
    {"block_id": "block_2", "type": "chart_line", "purpose": "Visualize monthly ad spend over time",
     "title": "Monthly Ad Spend", "x_axis_key": "fact_daily_ads.date.month", "y_axis_key": "fact_daily_ads.cost",
     "query": {
       "measures": ["fact_daily_ads.cost"],
       "time_dimensions": [{"dimension": "fact_daily_ads.date", "granularity": "month", "dateRange": "Last 6 months"}]
     }}
  ]
}
` + "```" + `

### Example 2 — Ranking question (bar chart, NO granularity)
Question: "What are the top 10 products by gross sales this month?"
` + "```json" + `
{
  "domain": "sales",
  "summary_title": "Top 10 Products by Gross Sales - This Month",
  "narrative_strategy": "Rank products by gross sales in a bar chart, with a text summary highlighting the leader.",
  "conversational_response": false,
  "blocks": [
    {"block_id": "block_1", "type": "chart_bar", "purpose": "Rank the top 10 products by gross sales",
     "title": "Top 10 Products by Gross Sales", "category_key": "dim_product_variants.combined_name", "value_key": "fact_sales_items.gross_sales",
     "query": {
       "measures": ["fact_sales_items.gross_sales"],
       "dimensions": ["dim_product_variants.combined_name"],
       "time_dimensions": [{"dimension": "fact_sales_items.line_timestamp", "dateRange": "This month"}],
       "order": {"fact_sales_items.gross_sales": "desc"}, "limit": 10
     }},
    {"block_id": "block_2", "type": "text", "purpose": "Highlight the top seller",
     "text_guidance": "Call out the #1 product and its gross sales figure."}
  ]
}
` + "```" + `

### Example 3 — Conversational follow-up (text-only, no queries)
Question: "Which one had the highest margin?"
` + "```json" + `
{
  "domain": "sales",
  "summary_title": "Highest Margin Product",
  "narrative_strategy": "Answer from conversation history - no new queries needed.",
  "conversational_response": true,
  "blocks": [
    {"block_id": "block_1", "type": "text", "purpose": "Answer the follow-up question using prior data",
     "text_guidance": "Answer which product had the highest margin, referencing the top-10 products data from the previous response."}
  ]
}
` + "```" + `

### Example 4 — Follow-up that needs new data (plan queries, don't refuse)
Conversation history shows daily total sales. User asks: "Which product contributed most to revenue?"
` + "```json" + `
{
  "domain": "sales",
  "summary_title": "Top Products by Revenue Contribution",
  "narrative_strategy": "The previous report showed total daily sales without a product breakdown. Query product-level sales to find the top contributor.",
  "conversational_response": false,
  "blocks": [
    {"block_id": "block_1", "type": "chart_bar", "purpose": "Rank products by gross sales contribution",
     "title": "Top Products by Gross Sales", "category_key": "dim_product_variants.combined_name", "value_key": "fact_sales_items.gross_sales",
     "query": {
       "measures": ["fact_sales_items.gross_sales"],
       "dimensions": ["dim_product_variants.combined_name"],
       "time_dimensions": [{"dimension": "fact_sales_items.line_timestamp", "dateRange": "Last 40 days"}],
       "order": {"fact_sales_items.gross_sales": "desc"}, "limit": 10
     }},
    {"block_id": "block_2", "type": "text", "purpose": "Highlight the top revenue contributor",
     "text_guidance": "Call out the #1 product and its share of total revenue."}
  ]
}
` + "```" + `
`

const marketingInstructions = "You are a Marketing Analytics specialist. Your expertise covers " +
	"advertising performance, attribution, email campaigns, and marketing ROI. " +
	"You know which cube members are relevant for marketing questions and how " +
	"to construct meaningful queries that reveal marketing insights. " +
	"Use exact cube member names from the metadata. " +
	"Pay close attention to the Query Construction Rules for when to include or omit granularity in time dimensions."

const salesInstructions = "You are a Sales Analytics specialist. Your expertise covers " +
	"sales performance, product metrics, customer data, and profitability. " +
	"You know which cube members are relevant for sales questions and how " +
	"to construct meaningful queries that reveal sales insights. " +
	"Use exact cube member names from the metadata. " +
	"Pay close attention to the Query Construction Rules for when to include or omit granularity in time dimensions."

const plannerIdentity = "You are an analytics report planner. Your job is to design a structured report " +
	"that best answers the user's question with appropriate data visualizations.\n\n" +

	"## Domain Classification\n" +
	"Set the `domain` field to \"marketing\" or \"sales\" based on the question.\n" +
	"- marketing: ads, campaigns, impressions, clicks, CTR, CPC, CPM, ROAS, attribution, email, ad spend\n" +
	"- sales: orders, revenue, products, customers, margins, discounts, returns, shipping, AOV, SKUs\n" +
	"For follow-ups, infer from conversation history. Default to \"marketing\" if unsure.\n\n" +

	"## Domain Expertise: Marketing\n" + marketingInstructions + "\n\n" +

	"## Domain Expertise: Sales\n" + salesInstructions + "\n\n" +

	"## Available Block Types\n" +
	"Each block has a `type` field that determines which other fields are required:\n" +
	"- **text** (`type = \"text\"`): A narrative paragraph explaining insights. " +
	"Set `text_guidance` to describe what to write about. No `query` needed.\n" +
	"- **chart_line** (`type = \"chart_line\"`): A line chart for trends over time. " +
	"REQUIRES a time dimension with granularity in the query. Set `x_axis_key` to the " +
	"time dimension (e.g. 'fact_daily_ads.date.day') and `y_axis_key` to the measure.\n" +
	"- **chart_bar** (`type = \"chart_bar\"`): A bar chart for categorical comparisons. " +
	"Best for comparing a few groups. Set `category_key` to the category dimension and " +
	"`value_key` to the measure.\n" +
	"- **table** (`type = \"table\"`): A data table for detailed numbers. Set `columns` " +
	"to the list of member names to display. Good for showing exact values.\n\n" +

	"## Data Storytelling Principles\n" +
	"1. Lead with the key insight (text block)\n" +
	"2. Support with the most impactful visualization\n" +
	"3. Add detail with supplementary visuals or tables\n" +
	"4. Conclude with context or recommendations if appropriate\n\n" +

	"## Query Construction for Each Block\n" +
	"- Each data block gets its OWN optimized `query` - do NOT try to reuse one query for all blocks.\n" +
	"- Line charts MUST include granularity in `query.time_dimensions`.\n" +
	"- Bar charts should limit to a reasonable number of categories (5-10 max).\n" +
	"- Tables can show more columns and rows than charts.\n" +
	"- Text blocks don't need a `query` (omit it).\n" +
	"- For text blocks, set `text_guidance` describing what to write about.\n\n" +

	"## Conversational Follow-Ups\n" +
	"Before planning, check the conversation history.\n\n" +
	"**If the answer is already in the conversation history** " +
	"(e.g. 'what was the best selling product?' after showing top products with product-level data), " +
	"or if the user explicitly says 'do not run a query':\n" +
	"- Produce ONLY text blocks (no data blocks)\n" +
	"- Set `conversational_response` to true\n" +
	"- In `text_guidance`, describe what the answer should cover and which data " +
	"points from the conversation history to reference\n\n" +
	"**If the answer requires new data not in the history** " +
	"(e.g. asking about products after only seeing total sales, or requesting a different time range), " +
	"set `conversational_response` to false and plan data blocks with queries as normal - " +
	"treat it like a fresh question.\n\n" +
	"**NEVER** produce a text-only response that says you lack the data to answer. " +
	"If you don't have the data, plan a query to get it.\n\n" +

	"Respond with a single JSON object matching the examples below.\n\n" +

	fewShotExamples

const reviewerIdentity = "You are a quality reviewer for analytics reports. Evaluate whether the " +
	"executed report blocks adequately answer the user's question."

const textGenIdentity = "You are a helpful analytics assistant."

const correctorIdentity = "You are a Cube query correction assistant. Fix failed queries based on " +
	"the error message and available cube metadata."

// HistoryMessage is one prior conversation turn.
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const historyTruncateAt = 1500

// FormatHistory renders recent conversation turns into a readable string for
// LLM context. Assistant messages are truncated to keep verbose report JSON
// from flooding the prompt.
func FormatHistory(messages []HistoryMessage, maxMessages int) string {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}
	var parts []string
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			parts = append(parts, "User: "+msg.Content)
		case "assistant":
			content := msg.Content
			if len(content) > historyTruncateAt {
				content = content[:historyTruncateAt] + "... [truncated]"
			}
			parts = append(parts, "Assistant: "+content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildPlannerPrompt assembles the full planner prompt: identity, cube
// metadata, conversation context, the question, and optional revision or
// member-validation feedback.
func buildPlannerPrompt(question, cubeMeta, history string, feedback *ReviewResult, memberErrors []string) string {
	var b strings.Builder
	b.WriteString(plannerIdentity)
	b.WriteString("\n\n## Cube Metadata\n")
	b.WriteString(cubeMeta)

	if history != "" {
		b.WriteString("\n\n## Conversation History\n")
		b.WriteString(history)
	}

	b.WriteString("\n\nUser question: ")
	b.WriteString(question)

	if feedback != nil {
		issues, _ := json.Marshal(feedback.Issues)
		fmt.Fprintf(&b, "\n\n## Revision Required\n"+
			"Your previous plan was reviewed and needs improvement.\n"+
			"Issues: %s\n"+
			"Instructions: %s\n"+
			"Please create an improved plan addressing these issues.",
			issues, feedback.RevisionInstructions)
	}

	if len(memberErrors) > 0 {
		b.WriteString("\n\n## Member Name Validation Errors\n" +
			"Your previous plan used invalid cube member names. Fix these:\n")
		for _, e := range memberErrors {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("\nUse ONLY member names from the Cube Metadata section above.")
	}

	return b.String()
}
