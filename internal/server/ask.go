package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	core "github.com/mohammad-safakhou/insight/internal/agent/core"
	"github.com/mohammad-safakhou/insight/internal/store"
)

var askTracer = otel.Tracer("insight/server/ask")

// ReportRunner produces one analytics report, streaming progress through emit.
// *core.Orchestrator implements it.
type ReportRunner interface {
	Run(ctx context.Context, question, history string, emit func(core.Event)) core.AnalyticsReport
}

// TurnStore is the slice of the store the ask handler needs.
type TurnStore interface {
	SaveTurn(ctx context.Context, userID, question string, report core.AnalyticsReport) (string, error)
	ListTurns(ctx context.Context, userID string, limit int) ([]store.Turn, error)
	GetReport(ctx context.Context, userID, reportID string) (core.AnalyticsReport, error)
}

// ConversationArchive is the slice of the history archive the ask handler
// needs.
type ConversationArchive interface {
	Append(ctx context.Context, userID string, msg core.HistoryMessage) error
	Recent(ctx context.Context, userID string) ([]core.HistoryMessage, error)
}

type AskHandler struct {
	Runner       ReportRunner
	Store        TurnStore
	History      ConversationArchive
	HistoryLimit int
	Logger       *log.Logger
}

func (h *AskHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/ask", h.ask)
	g.GET("/turns", h.listTurns)
	g.GET("/reports/:report_id", h.getReport)
}

// ask runs one report and streams progress as server-sent events: a "thought"
// event per progress update, then exactly one final "report" event.
func (h *AskHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	ctx := c.Request().Context()
	ctx, span := askTracer.Start(ctx, "AskHandler.ask")
	defer span.End()
	userID, _ := c.Get("user_id").(string)
	span.SetAttributes(attribute.String("user_id", userID))

	messages, err := h.History.Recent(ctx, userID)
	if err != nil {
		h.Logger.Printf("history load failed for %s, continuing without: %v", userID, err)
	}
	historyText := core.FormatHistory(messages, h.HistoryLimit)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	report := h.Runner.Run(ctx, question, historyText, func(e core.Event) {
		switch e.Kind {
		case "thought":
			send("thought", map[string]string{"thought": e.Thought})
		case "report":
			send("report", e.Report)
		}
	})
	span.SetAttributes(attribute.Int("report.blocks", len(report.Blocks)))

	if _, err := h.Store.SaveTurn(ctx, userID, question, report); err != nil {
		span.RecordError(err)
		h.Logger.Printf("saving turn for %s failed: %v", userID, err)
	}
	h.recordHistory(ctx, userID, question, report)
	return nil
}

// recordHistory appends the question and a serialized report to the user's
// conversation so follow-up questions can reference both.
func (h *AskHandler) recordHistory(ctx context.Context, userID, question string, report core.AnalyticsReport) {
	if err := h.History.Append(ctx, userID, core.HistoryMessage{Role: "user", Content: question}); err != nil {
		h.Logger.Printf("history append failed for %s: %v", userID, err)
		return
	}
	content := report.SummaryTitle
	if data, err := json.Marshal(report); err == nil {
		content = string(data)
	}
	if err := h.History.Append(ctx, userID, core.HistoryMessage{Role: "assistant", Content: content}); err != nil {
		h.Logger.Printf("history append failed for %s: %v", userID, err)
	}
}

func (h *AskHandler) listTurns(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	turns, err := h.Store.ListTurns(c.Request().Context(), userID, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	return c.JSON(http.StatusOK, TurnListResponse{Turns: turns})
}

func (h *AskHandler) getReport(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	reportID := c.Param("report_id")
	report, err := h.Store.GetReport(c.Request().Context(), userID, reportID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, report)
}
