package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/handlers"
)

// Options configures the HTTP server wiring.
type Options struct {
	APIToken string
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	// Health + meta
	engine.GET("/healthz", handler.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/events", handler.StreamBusEvents)

	// Chat
	engine.POST("/chat/search", handler.ChatSearch)

	// Extraction
	engine.POST("/extract/image", handler.ExtractFromImage)
	engine.POST("/extract/text", handler.ExtractFromText)
	engine.POST("/extract/url", handler.ExtractFromURL)

	// Speech
	engine.POST("/transcribe", handler.TranscribeAudio)

	// Moderation
	engine.POST("/moderation/conversation", handler.ValidateConversation)
	engine.POST("/moderation/event", handler.ValidateEvent)

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.APIToken))

	protected.POST("/promoter/chat", handler.PromoterChat)

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address. The write timeout
// stays generous because chat responses stream for up to the gateway's
// stream timeout.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return srv
}
