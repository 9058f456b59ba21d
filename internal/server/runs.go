package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

type runsHandler struct {
	runs RunReader
}

func (h *runsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/html", h.html)
}

type runResponse struct {
	ID             string           `json:"id"`
	Query          string           `json:"query"`
	Recipient      string           `json:"recipient,omitempty"`
	Outcome        research.Outcome `json:"outcome"`
	Flags          []string         `json:"flags,omitempty"`
	Brief          string           `json:"brief,omitempty"`
	Error          string           `json:"error,omitempty"`
	ShortSummary   string           `json:"short_summary,omitempty"`
	ReportMarkdown string           `json:"report_markdown,omitempty"`
	FollowUp       []string         `json:"follow_up_questions,omitempty"`
	Status         string           `json:"status,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

func toRunResponse(rec research.RunRecord) runResponse {
	out := runResponse{
		ID:             rec.ID,
		Query:          rec.Query,
		Recipient:      rec.Recipient,
		Outcome:        rec.Outcome,
		Flags:          rec.Flags,
		Brief:          rec.Brief,
		Error:          rec.Error,
		ShortSummary:   rec.ShortSummary,
		ReportMarkdown: rec.ReportMarkdown,
		FollowUp:       rec.FollowUp,
		Status:         rec.Status,
		StartedAt:      rec.StartedAt,
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func (h *runsHandler) list(c echo.Context) error {
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]runResponse, 0, len(runs))
	for _, rec := range runs {
		out = append(out, toRunResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *runsHandler) load(c echo.Context) (research.RunRecord, error) {
	rec, err := h.runs.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return rec, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return rec, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rec, nil
}

func (h *runsHandler) get(c echo.Context) error {
	rec, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunResponse(rec))
}

func (h *runsHandler) html(c echo.Context) error {
	rec, err := h.load(c)
	if err != nil {
		return err
	}
	if rec.ReportHTML == "" {
		return echo.NewHTTPError(http.StatusNotFound, "run has no report")
	}
	return c.HTML(http.StatusOK, rec.ReportHTML)
}
