package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

var tracer = otel.Tracer("deepresearch/internal/server")

type researchHandler struct {
	svc        Service
	runTimeout time.Duration
	logger     *log.Logger
}

func (h *researchHandler) Register(g *echo.Group) {
	g.POST("/research", h.research)
	g.POST("/clarify", h.clarify)
}

type clarifyRequest struct {
	Query string `json:"query"`
}

type clarifyResponse struct {
	Q1 string `json:"q1"`
	Q2 string `json:"q2"`
	Q3 string `json:"q3"`
}

// research streams a run as server-sent events: one "frame" event per update,
// then a single "done" event.
func (h *researchHandler) research(c echo.Context) error {
	var req research.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if len(req.Clarifications) > research.MaxClarifications {
		return echo.NewHTTPError(http.StatusBadRequest, "at most 3 clarifications are accepted")
	}

	ctx, span := tracer.Start(c.Request().Context(), "server.research")
	defer span.End()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	var runID string
	var outcome research.Outcome
	for frame := range h.svc.Stream(ctx, req) {
		runID, outcome = frame.RunID, frame.Outcome
		if err := writeEvent(resp, "frame", frame); err != nil {
			// Client went away; the runner stops on ctx.
			h.logger.Printf("run %s: write frame: %v", frame.RunID, err)
			continue
		}
		flusher.Flush()
	}
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("run.outcome", string(outcome)))
	if err := writeEvent(resp, "done", map[string]string{"run_id": runID, "outcome": string(outcome)}); err == nil {
		flusher.Flush()
	}
	return nil
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}

func (h *researchHandler) clarify(c echo.Context) error {
	var req clarifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	q, err := h.svc.Clarify(c.Request().Context(), req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, clarifyResponse{Q1: q.Q1, Q2: q.Q2, Q3: q.Q3})
}
