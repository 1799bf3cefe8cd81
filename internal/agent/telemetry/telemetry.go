package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/insight/config"
)

// Telemetry provides monitoring and cost tracking for report runs
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Oracle (LLM call) metrics
	OracleCalls       map[string]int64 // role -> calls
	OracleTokensUsed  map[string]int64 // model -> tokens
	OracleModelCalls  map[string]int64 // model -> calls
	OracleSuccessRate map[string]float64

	// Query metrics
	QueryExecutions int64
	QueryFailures   int64
	QueryRetries    int64
}

// CostTracker tracks LLM costs per model and role
type CostTracker struct {
	RoleCosts   map[string]float64 // role -> cost
	ModelCosts  map[string]float64 // model -> cost
	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents one full report run
type RunEvent struct {
	ID         string
	Question   string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
	Revisions  int
	Blocks     int
}

// OracleEvent represents a single LLM call
type OracleEvent struct {
	Role       string // planner, reviewer, textgen, corrector
	Model      string
	Duration   time.Duration
	Success    bool
	Cost       float64
	TokensUsed int64
}

// QueryEvent represents one semantic layer query execution
type QueryEvent struct {
	BlockID  string
	Duration time.Duration
	Success  bool
	Retries  int
	Rows     int
}

var (
	promRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_runs_total",
		Help: "Report runs by outcome.",
	}, []string{"outcome"})
	promOracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_oracle_calls_total",
		Help: "LLM calls by role and outcome.",
	}, []string{"role", "outcome"})
	promQueryExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_query_executions_total",
		Help: "Semantic layer query executions by outcome.",
	}, []string{"outcome"})
	promQueryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_query_retries_total",
		Help: "Semantic layer query retry attempts.",
	})
	promRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "insight_run_duration_seconds",
		Help:    "Report run duration.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			OracleCalls:       make(map[string]int64),
			OracleTokensUsed:  make(map[string]int64),
			OracleModelCalls:  make(map[string]int64),
			OracleSuccessRate: make(map[string]float64),
		},
		costTracker: &CostTracker{
			RoleCosts:  make(map[string]float64),
			ModelCosts: make(map[string]float64),
		},
	}

	if config.Enabled && config.PeriodicLogs {
		go t.startMetricsCollection()
	}

	return t
}

// RecordRunEvent records a complete report run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
		promRunsTotal.WithLabelValues("success").Inc()
	} else {
		t.metrics.FailedRuns++
		promRunsTotal.WithLabelValues("failure").Inc()
	}
	promRunDuration.Observe(event.Duration.Seconds())

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Run Event: ID=%s, Success=%t, Duration=%v, Revisions=%d, Blocks=%d, Cost=$%.4f, Tokens=%d",
		event.ID, event.Success, event.Duration, event.Revisions, event.Blocks, event.Cost, event.TokensUsed)
}

// RecordOracleEvent records one LLM call
func (t *Telemetry) RecordOracleEvent(ctx context.Context, event OracleEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.OracleCalls[event.Role]++
	t.metrics.OracleModelCalls[event.Model]++
	t.metrics.OracleTokensUsed[event.Model] += event.TokensUsed

	currentSuccess := t.metrics.OracleSuccessRate[event.Role] * float64(t.metrics.OracleCalls[event.Role]-1)
	if event.Success {
		currentSuccess += 1.0
		promOracleCalls.WithLabelValues(event.Role, "success").Inc()
	} else {
		promOracleCalls.WithLabelValues(event.Role, "failure").Inc()
	}
	t.metrics.OracleSuccessRate[event.Role] = currentSuccess / float64(t.metrics.OracleCalls[event.Role])

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed
	t.costTracker.RoleCosts[event.Role] += event.Cost
	t.costTracker.ModelCosts[event.Model] += event.Cost

	t.logger.Printf("Oracle Event: Role=%s, Model=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.Role, event.Model, event.Success, event.Duration, event.Cost, event.TokensUsed)
}

// RecordQueryEvent records a semantic layer query execution
func (t *Telemetry) RecordQueryEvent(ctx context.Context, event QueryEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.QueryExecutions++
	t.metrics.QueryRetries += int64(event.Retries)
	if event.Success {
		promQueryExecutions.WithLabelValues("success").Inc()
	} else {
		t.metrics.QueryFailures++
		promQueryExecutions.WithLabelValues("failure").Inc()
	}
	promQueryRetries.Add(float64(event.Retries))

	t.logger.Printf("Query Event: Block=%s, Success=%t, Duration=%v, Retries=%d, Rows=%d",
		event.BlockID, event.Success, event.Duration, event.Retries, event.Rows)
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.OracleCalls = make(map[string]int64)
	metrics.OracleTokensUsed = make(map[string]int64)
	metrics.OracleModelCalls = make(map[string]int64)
	metrics.OracleSuccessRate = make(map[string]float64)

	for k, v := range t.metrics.OracleCalls {
		metrics.OracleCalls[k] = v
	}
	for k, v := range t.metrics.OracleTokensUsed {
		metrics.OracleTokensUsed[k] = v
	}
	for k, v := range t.metrics.OracleModelCalls {
		metrics.OracleModelCalls[k] = v
	}
	for k, v := range t.metrics.OracleSuccessRate {
		metrics.OracleSuccessRate[k] = v
	}

	return metrics
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	RoleCosts   map[string]float64
	ModelCosts  map[string]float64
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		RoleCosts:   make(map[string]float64),
		ModelCosts:  make(map[string]float64),
	}
	for k, v := range t.costTracker.RoleCosts {
		summary.RoleCosts[k] = v
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// startMetricsCollection starts periodic metrics logging
func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, Queries=%d (%d failed), TotalCost=$%.4f, TotalTokens=%d",
			metrics.SuccessfulRuns, metrics.TotalRuns, metrics.AverageRunTime,
			metrics.QueryExecutions, metrics.QueryFailures, costs.TotalCost, costs.TotalTokens)
	}
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Println("Shutting down telemetry system...")
	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	if metrics.TotalRuns > 0 {
		t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100)
	}
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Runs: %d
  Successful: %d
  Failed: %d
  Average Run Time: %v
  Queries: %d (%d failed, %d retries)
  Total Cost: $%.4f
  Total Tokens: %d

Oracle Usage:
`, metrics.TotalRuns, metrics.SuccessfulRuns, metrics.FailedRuns,
		metrics.AverageRunTime, metrics.QueryExecutions, metrics.QueryFailures,
		metrics.QueryRetries, costs.TotalCost, costs.TotalTokens)

	for role, calls := range metrics.OracleCalls {
		report += fmt.Sprintf("  %s: %d calls, %.2f%% success, $%.4f\n",
			role, calls, metrics.OracleSuccessRate[role]*100, costs.RoleCosts[role])
	}
	for model, calls := range metrics.OracleModelCalls {
		report += fmt.Sprintf("  model %s: %d calls, %d tokens, $%.4f\n",
			model, calls, metrics.OracleTokensUsed[model], costs.ModelCosts[model])
	}

	return report
}
