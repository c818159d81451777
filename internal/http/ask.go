package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SSE event names sent by the ask endpoint.
const (
	EventAnswer  = "answer"
	EventSources = "sources"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// AskRequest is the request body for POST /api/v1/workspaces/:workspace/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AnswerPayload is a complete answer. It is the data of an answer event and
// the JSON response when the client does not accept an event stream.
type AnswerPayload struct {
	Outcome orchestrator.Outcome `json:"outcome"`
	Text    string               `json:"text"`
	// MatchPercent is set for cached answers.
	MatchPercent float64  `json:"match_percent,omitempty"`
	Sources      []Source `json:"sources,omitempty"`
}

// Source is one passage the answer was generated from.
type Source struct {
	ID    string  `json:"id"`
	File  string  `json:"file"`
	Score float32 `json:"score"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

func (s *Server) handleAsk(c echo.Context) error {
	ws := c.Param("workspace")
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ask request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	ctx := logging.WithWorkspace(c.Request().Context(), ws)
	ans, err := s.pipeline.Ask(ctx, ws, req.Question)
	if err != nil {
		return s.httpError(c, err)
	}

	if !acceptsEventStream(c.Request()) {
		return s.answerJSON(c, ans)
	}
	return s.answerStream(c, ans)
}

// answerJSON drains a generated answer and returns it whole.
func (s *Server) answerJSON(c echo.Context, ans *orchestrator.Answer) error {
	payload := answerPayload(ans)
	if ans.Stream != nil {
		text, err := ans.Stream.Collect()
		if err != nil {
			return s.httpError(c, err)
		}
		payload.Text = text
	}
	return c.JSON(http.StatusOK, payload)
}

// answerStream writes ans as server-sent events. Cached and no-evidence
// answers are a single answer event; generated answers are a sources event
// followed by one token event per fragment and a closing done event.
func (s *Server) answerStream(c echo.Context, ans *orchestrator.Answer) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if ans.Stream == nil {
		if err := writeEvent(res, EventAnswer, answerPayload(ans)); err != nil {
			return nil
		}
		_ = writeEvent(res, EventDone, struct{}{})
		return nil
	}

	stream := ans.Stream
	defer stream.Close()

	if err := writeEvent(res, EventSources, sources(ans)); err != nil {
		return nil
	}
	for stream.Next() {
		if err := writeEvent(res, EventToken, stream.Token()); err != nil {
			s.logger.Debug("client went away mid-stream", zap.Error(err))
			return nil
		}
	}
	if err := stream.Err(); err != nil {
		s.logger.Warn("answer stream failed",
			zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
		_ = writeEvent(res, EventError, ErrorPayload{Error: "answer generation failed"})
		return nil
	}
	_ = writeEvent(res, EventDone, struct{}{})
	return nil
}

func answerPayload(ans *orchestrator.Answer) AnswerPayload {
	p := AnswerPayload{Outcome: ans.Outcome, Text: ans.Text, Sources: sources(ans)}
	if ans.CacheHit != nil {
		p.MatchPercent = ans.CacheHit.Percent
	}
	return p
}

func sources(ans *orchestrator.Answer) []Source {
	if len(ans.Relevant) == 0 {
		return nil
	}
	out := make([]Source, len(ans.Relevant))
	for i, d := range ans.Relevant {
		out[i] = Source{ID: d.ID, File: workspace.FileFromChunkID(d.ID), Score: d.RerankerScore}
	}
	return out
}

// writeEvent writes one event whose data is the JSON encoding of v, so
// newlines inside tokens never split an event.
func writeEvent(res *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func acceptsEventStream(r *http.Request) bool {
	accept := r.Header.Get(echo.HeaderAccept)
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "text/event-stream") || !strings.Contains(accept, echo.MIMEApplicationJSON)
}
