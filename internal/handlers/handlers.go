// Package handlers provides HTTP request handlers for the laiive API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/events"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/extract"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/metrics"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/moderation"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/urlguard"
)

type gateway interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
	StreamTimeout() time.Duration
}

type toolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

type toolCatalog interface {
	Tools(names ...string) ([]llm.Tool, error)
}

type eventExtractor interface {
	FromText(ctx context.Context, text, language string) (*extract.EventDetails, error)
	FromImage(ctx context.Context, imageBase64 string) (*extract.EventDetails, error)
	FromPage(ctx context.Context, page, language string) (*extract.EventDetails, error)
}

type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

type moderator interface {
	CheckMessage(ctx context.Context, check moderation.MessageCheck) (*moderation.Verdict, error)
	CheckEvent(ctx context.Context, check moderation.EventCheck) (*moderation.Verdict, error)
}

type limiter interface {
	Allow(key string) bool
}

type logProducer interface {
	Enqueue(ctx context.Context, entry store.ConversationLog) error
}

// Options configures handler runtime behavior.
type Options struct {
	MaxAudioBytes int64
	MaxURLLength  int
	// ConversationFailOpen and EventFailOpen control what a moderation
	// outage does to the guarded action: fail-open allows it, fail-closed
	// returns 503 and blocks it.
	ConversationFailOpen bool
	EventFailOpen        bool
}

// Deps bundles handler dependencies.
type Deps struct {
	Gateway   gateway
	Executor  toolExecutor
	Catalog   toolCatalog
	Extractor eventExtractor
	Fetcher   pageFetcher
	Speech    transcriber
	Moderator moderator
	Limiter   limiter
	LogQueue  logProducer
	Bus       *events.Bus
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	gateway   gateway
	executor  toolExecutor
	catalog   toolCatalog
	extractor eventExtractor
	fetcher   pageFetcher
	speech    transcriber
	moderator moderator
	limiter   limiter
	logQueue  logProducer
	bus       *events.Bus
	opts      Options
}

// New creates a new Handler instance.
func New(deps Deps, opts Options) *Handler {
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = 10 * 1024 * 1024
	}
	if opts.MaxURLLength <= 0 {
		opts.MaxURLLength = urlguard.MaxURLLength
	}
	return &Handler{
		gateway:   deps.Gateway,
		executor:  deps.Executor,
		catalog:   deps.Catalog,
		extractor: deps.Extractor,
		fetcher:   deps.Fetcher,
		speech:    deps.Speech,
		moderator: deps.Moderator,
		limiter:   deps.Limiter,
		logQueue:  deps.LogQueue,
		bus:       deps.Bus,
		opts:      opts,
	}
}

// Health returns the health status of the service.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type extractImageRequest struct {
	ImageBase64 string `json:"imageBase64" binding:"required"`
}

// ExtractFromImage pulls event details out of a flyer photo.
func (h *Handler) ExtractFromImage(c *gin.Context) {
	var req extractImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	details, err := h.extractor.FromImage(c.Request.Context(), req.ImageBase64)
	if err != nil {
		log.Printf("Image extraction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not extract event details from the image"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eventDetails": details})
}

type extractTextRequest struct {
	Text     string `json:"text" binding:"required"`
	Language string `json:"language"`
}

// ExtractFromText pulls event details out of free text.
func (h *Handler) ExtractFromText(c *gin.Context) {
	var req extractTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	details, err := h.extractor.FromText(c.Request.Context(), req.Text, req.Language)
	if err != nil {
		log.Printf("Text extraction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not extract event details from the text"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eventDetails": details})
}

type extractURLRequest struct {
	URL      string `json:"url" binding:"required"`
	Language string `json:"language"`
}

// ExtractFromURL fetches a page through the SSRF guard and extracts event
// details from its content.
func (h *Handler) ExtractFromURL(c *gin.Context) {
	if !h.limiter.Allow(c.ClientIP()) {
		metrics.IncRateLimited("extract_url")
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Rate limit exceeded. Please try again later."})
		return
	}

	var req extractURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	// The guard runs before any network fetch.
	if err := urlguard.Validate(req.URL, h.opts.MaxURLLength); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	page, err := h.fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		log.Printf("Page fetch failed for extraction: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "could not fetch the page"})
		return
	}

	details, err := h.extractor.FromPage(c.Request.Context(), page, req.Language)
	if err != nil {
		log.Printf("URL extraction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not extract event details from the page"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eventData": details})
}

type transcribeRequest struct {
	Audio    string `json:"audio" binding:"required"`
	Language string `json:"language"`
}

// TranscribeAudio decodes base64 audio (capped at MaxAudioBytes) and runs
// it through the speech-to-text provider.
func (h *Handler) TranscribeAudio(c *gin.Context) {
	if !h.limiter.Allow(c.ClientIP()) {
		metrics.IncRateLimited("transcribe")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
		return
	}

	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload := req.Audio
	if idx := strings.Index(payload, ";base64,"); idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}
	// Reject oversized payloads before decoding; base64 inflates by 4/3.
	if int64(len(payload)) > h.opts.MaxAudioBytes*4/3+4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio exceeds the maximum size of 10MB"})
		return
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio is not valid base64"})
		return
	}
	if int64(len(audio)) > h.opts.MaxAudioBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio exceeds the maximum size of 10MB"})
		return
	}

	text, err := h.speech.Transcribe(c.Request.Context(), audio, req.Language)
	if err != nil {
		log.Printf("Transcription failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transcription failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

type validateConversationRequest struct {
	SessionID        string `json:"session_id" binding:"required"`
	ConversationType string `json:"conversation_type" binding:"required"`
	MessageRole      string `json:"message_role" binding:"required"`
	MessageContent   string `json:"message_content" binding:"required"`
	DeviceType       string `json:"device_type"`
	UserAgent        string `json:"user_agent"`
	Language         string `json:"language"`
}

// ValidateConversation screens one chat message and, when it passes,
// queues it for audit logging. The caller treats this as fire-and-forget.
func (h *Handler) ValidateConversation(c *gin.Context) {
	var req validateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.moderator.CheckMessage(c.Request.Context(), moderation.MessageCheck{
		SessionID:        req.SessionID,
		ConversationType: req.ConversationType,
		Role:             req.MessageRole,
		Content:          req.MessageContent,
		Language:         req.Language,
	})
	if err != nil {
		metrics.ObserveModeration("conversation", "unavailable")
		if h.opts.ConversationFailOpen {
			h.enqueueConversationLog(c.Request.Context(), req)
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation service unavailable"})
		return
	}

	if !verdict.Allowed {
		metrics.ObserveModeration("conversation", "blocked")
		if h.bus != nil {
			_ = h.bus.Publish(c.Request.Context(), events.TypeConversationBlocked, gin.H{
				"session_id": req.SessionID,
				"reason":     verdict.Reason,
			})
		}
		c.JSON(http.StatusForbidden, gin.H{"blocked": true, "reason": verdict.Reason})
		return
	}

	metrics.ObserveModeration("conversation", "allowed")
	h.enqueueConversationLog(c.Request.Context(), req)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) enqueueConversationLog(ctx context.Context, req validateConversationRequest) {
	if h.logQueue == nil {
		return
	}
	err := h.logQueue.Enqueue(ctx, store.ConversationLog{
		SessionID:        req.SessionID,
		ConversationType: req.ConversationType,
		Role:             req.MessageRole,
		Content:          req.MessageContent,
		DeviceType:       req.DeviceType,
		UserAgent:        req.UserAgent,
		Language:         req.Language,
	})
	if err != nil {
		// Logging is best-effort; the conversation proceeds regardless.
		log.Printf("Failed to enqueue conversation log: %v", err)
	}
}

type validateEventRequest struct {
	Event     map[string]interface{} `json:"event" binding:"required"`
	SessionID string                 `json:"session_id" binding:"required"`
}

// ValidateEvent screens a submitted event. A moderation outage rejects the
// event (fail-closed) unless EventFailOpen is set.
func (h *Handler) ValidateEvent(c *gin.Context) {
	var req validateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.moderator.CheckEvent(c.Request.Context(), moderation.EventCheck{
		SessionID: req.SessionID,
		Event:     req.Event,
	})
	if err != nil {
		metrics.ObserveModeration("event", "unavailable")
		if h.opts.EventFailOpen {
			c.JSON(http.StatusOK, gin.H{"success": true, "event": req.Event})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation service unavailable"})
		return
	}

	if !verdict.Allowed {
		metrics.ObserveModeration("event", "blocked")
		if h.bus != nil {
			_ = h.bus.Publish(c.Request.Context(), events.TypeEventRejected, gin.H{
				"session_id": req.SessionID,
				"reason":     verdict.Reason,
			})
		}
		c.JSON(http.StatusForbidden, gin.H{"blocked": true, "reason": verdict.Reason})
		return
	}

	metrics.ObserveModeration("event", "allowed")
	c.JSON(http.StatusOK, gin.H{"success": true, "event": req.Event})
}
