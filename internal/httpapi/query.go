package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/muckrock/foia-coach-api/internal/rag"
)

const maxQueryBodyBytes = 1 << 20

func (h *Handler) readQuery(c *gin.Context) (*queryRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxQueryBodyBytes))
	if err != nil {
		abortWithError(c, err, nil)
		return nil, false
	}
	req, err := decodeQueryRequest(body)
	if err != nil {
		abortWithError(c, err, nil)
		return nil, false
	}
	return req, true
}

func (req *queryRequest) toRAG() rag.QueryRequest {
	return rag.QueryRequest{
		Question:     req.Question,
		State:        req.State,
		Context:      req.Context,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	}
}

// Query answers a question, falling back across providers
func (h *Handler) Query(c *gin.Context) {
	req, ok := h.readQuery(c)
	if !ok {
		return
	}

	result, err := h.coach.QueryWithFallback(c.Request.Context(), req.toRAG(), req.Provider)
	if err != nil {
		h.logger.WarnKV("Query failed", "request_id", requestID(c), "state", req.State, "provider", req.Provider, "error", err)
		abortWithError(c, err, req)
		return
	}
	if result.Citations == nil {
		result.Citations = []rag.Citation{}
	}
	c.JSON(http.StatusOK, result)
}

// QueryStream answers a question as Server-Sent Events: chunk events, one
// citations event, then done. An error event ends the stream early.
func (h *Handler) QueryStream(c *gin.Context) {
	req, ok := h.readQuery(c)
	if !ok {
		return
	}

	events, sel, err := h.coach.StreamWithFallback(c.Request.Context(), req.toRAG(), req.Provider)
	if err != nil {
		h.logger.WarnKV("Stream setup failed", "request_id", requestID(c), "state", req.State, "error", err)
		abortWithError(c, err, req)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		switch ev.Type {
		case rag.EventChunk:
			h.sendSSE(c, string(rag.EventChunk), gin.H{"text": ev.Text})
		case rag.EventCitations:
			citations := ev.Citations
			if citations == nil {
				citations = []rag.Citation{}
			}
			h.sendSSE(c, string(rag.EventCitations), gin.H{"citations": citations})
		case rag.EventDone:
			h.sendSSE(c, string(rag.EventDone), gin.H{
				"provider":           ev.Provider,
				"model":              ev.Model,
				"state":              req.State,
				"fallback_used":      sel.FallbackUsed,
				"requested_provider": sel.RequestedProvider,
				"actual_provider":    sel.ActualProvider,
			})
			return false
		case rag.EventError:
			_, body := errorResponse(ev.Err, req)
			h.logger.WarnKV("Stream failed", "request_id", requestID(c), "provider", sel.ActualProvider, "error", ev.Err)
			h.sendSSE(c, string(rag.EventError), body)
			return false
		}
		return true
	})
}

func (h *Handler) sendSSE(c *gin.Context, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.ErrorKV("Failed to encode stream event", "event", eventType, "error", err)
		return
	}
	c.SSEvent(eventType, string(jsonData))
	c.Writer.Flush()
}
