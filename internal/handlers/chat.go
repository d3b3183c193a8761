package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/logutil"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/metrics"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/relay"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/toolcat"
)

const searchSystemPrompt = `You are a helpful assistant for discovering live music events. ` +
	`Answer in the language the user writes in. When the user asks about concerts, ` +
	`gigs or shows, call the search_events tool with the user's coordinates and the ` +
	`date range they mean. Today is %s. The user is at latitude %.6f, longitude %.6f. ` +
	`Never invent events; only report what the tool returns.`

const searchSystemPromptNoLocation = `You are a helpful assistant for discovering live music ` +
	`events. Answer in the language the user writes in. Today is %s. The user has not ` +
	`shared a location; ask for a city before searching. Never invent events; only ` +
	`report what the tool returns.`

const promoterSystemPrompt = `You help event promoters publish live music events. Collect the ` +
	`event name, venue, city and date, plus any artist, description, price or ticket ` +
	`link the promoter offers. Today is %s. Once every required detail is confirmed, ` +
	`call the create_event tool exactly once. After the tool confirms, emit the event ` +
	`as JSON wrapped between two __EVENT_EXTRACTED__ markers and nothing else.`

type incomingMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type chatRequest struct {
	Messages   []incomingMessage `json:"messages" binding:"required,min=1"`
	Location   *locationPayload  `json:"location"`
	SearchMode string            `json:"searchMode"`
}

// ChatSearch streams an assistant reply for event discovery, executing
// search_events tool calls server-side and splicing the results into the
// SSE stream.
func (h *Handler) ChatSearch(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validRoles(req.Messages) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message roles must be user or assistant"})
		return
	}

	today := time.Now().Format("Monday, 2 January 2006")
	var system string
	if req.Location != nil {
		system = fmt.Sprintf(searchSystemPrompt, today, req.Location.Latitude, req.Location.Longitude)
	} else {
		system = fmt.Sprintf(searchSystemPromptNoLocation, today)
	}

	gatewayReq := llm.ChatRequest{Messages: buildMessages(system, req.Messages)}
	// Internet-mode searches lean on the model alone; database mode arms
	// the event search tool.
	var acc *relay.Accumulator
	if req.SearchMode != "internet" {
		tools, err := h.catalog.Tools(toolcat.SearchEvents)
		if err != nil {
			logutil.Error("tool_catalog_lookup_failed", err, nil)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		gatewayReq.Tools = tools
		acc = relay.NewAccumulator([]string{toolcat.SearchEvents}, h.executor.Execute)
	}

	h.streamChat(c, "chat_search", gatewayReq, acc, nil)
}

type promoterChatRequest struct {
	Messages []incomingMessage `json:"messages" binding:"required,min=1"`
}

// PromoterChat streams the event publication conversation. The create_event
// tool runs server-side, and a completed extraction short-circuits the
// stream with a typed extracted_event frame.
func (h *Handler) PromoterChat(c *gin.Context) {
	var req promoterChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validRoles(req.Messages) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message roles must be user or assistant"})
		return
	}

	today := time.Now().Format("Monday, 2 January 2006")
	system := fmt.Sprintf(promoterSystemPrompt, today)

	tools, err := h.catalog.Tools(toolcat.CreateEvent)
	if err != nil {
		logutil.Error("tool_catalog_lookup_failed", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	gatewayReq := llm.ChatRequest{
		Messages: buildMessages(system, req.Messages),
		Tools:    tools,
	}
	acc := relay.NewAccumulator([]string{toolcat.CreateEvent}, h.executor.Execute)
	h.streamChat(c, "promoter_chat", gatewayReq, acc, &relay.SentinelDetector{})
}

func validRoles(messages []incomingMessage) bool {
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			return false
		}
	}
	return true
}

func buildMessages(system string, history []incomingMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.TextMessage("system", system))
	for _, m := range history {
		out = append(out, llm.TextMessage(m.Role, m.Content))
	}
	return out
}

func (h *Handler) streamChat(c *gin.Context, endpoint string, req llm.ChatRequest, acc *relay.Accumulator, detector *relay.SentinelDetector) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.gateway.StreamTimeout())
	defer cancel()

	upstream, err := h.gateway.StreamChat(ctx, req)
	if err != nil {
		gatewayErrorResponse(c, err)
		return
	}
	defer upstream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()

	writer := relay.NewFrameWriter(c.Writer)
	r := relay.New(relay.Options{Writer: writer, Accumulator: acc, Detector: detector})

	start := time.Now()
	status := "ok"
	if err := r.Run(ctx, upstream); err != nil {
		status = "error"
		logutil.Error("stream_relay_failed", err, map[string]interface{}{"endpoint": endpoint})
		// The stream is already committed; degrade in-band.
		_ = writer.WriteContent("I'm sorry, something went wrong. Please try again.")
		_ = writer.WriteDone()
	}
	metrics.ObserveStream(endpoint, status, time.Since(start))
}

func gatewayErrorResponse(c *gin.Context, err error) {
	var gwErr *llm.GatewayError
	if errors.As(err, &gwErr) {
		switch gwErr.StatusCode {
		case http.StatusTooManyRequests:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
			return
		case http.StatusPaymentRequired:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "The assistant is temporarily unavailable."})
			return
		}
	}
	logutil.Error("gateway_request_failed", err, nil)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reach the assistant"})
}

// StreamBusEvents streams domain events to the client over SSE.
func (h *Handler) StreamBusEvents(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	ch, cancel := h.bus.Subscribe(c.Request.Context())
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Type, payload)
			c.Writer.Flush()
		}
	}
}
