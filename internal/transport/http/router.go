package http

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mcq-bot/internal/app"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/transport/telegram"
)

// maxWebhookBody bounds a single inbound update.
const maxWebhookBody = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	// WebhookSecret must match X-Telegram-Bot-Api-Secret-Token when set.
	WebhookSecret string
	// CronSecret must be presented as a bearer token on trigger and
	// maintenance endpoints when set.
	CronSecret string
}

// Handler exposes the bot service over HTTP.
type Handler struct {
	service *app.BotService
	opts    Options
	logger  zerolog.Logger
	ws      *WSHandler
}

func NewHandler(service *app.BotService, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		opts:    opts,
		logger:  logger,
		ws:      NewWSHandler(service, logger),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/webhook", h.webhook)
	r.GET("/ws/stats", h.ws.ServeStats)

	triggers := r.Group("/", h.requireCronSecret())
	triggers.POST("/dispense", h.dispense)
	triggers.POST("/cron", h.cron)

	maint := r.Group("/maintenance", h.requireCronSecret())
	maint.POST("/reset-rotation", h.resetRotation)
	maint.POST("/dedupe", h.dedupe)
	maint.GET("/integrity", h.integrity)
	maint.GET("/stats", h.collectionStats)
	return r
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := h.logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = h.logger.Error()
		}
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func (h *Handler) requireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.CronSecret == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.CronSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// webhook acknowledges every well-formed update with 200, even when handling
// fails, so the platform does not redeliver it.
func (h *Handler) webhook(c *gin.Context) {
	if h.opts.WebhookSecret != "" {
		got := c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.WebhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	upd, ok, err := telegram.DecodeUpdate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}
	if ok {
		if err := h.service.HandleUpdate(c.Request.Context(), upd); err != nil {
			_ = c.Error(err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) dispense(c *gin.Context) {
	raw := c.Query("target")
	if raw == "" {
		h.cron(c)
		return
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be a chat id"})
		return
	}
	index, err := h.service.Dispense(c.Request.Context(), chatID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": chatID, "item": index})
}

func (h *Handler) cron(c *gin.Context) {
	results, err := h.service.DispenseAll(c.Request.Context())
	if err != nil && len(results) == 0 {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		_ = c.Error(err)
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": results})
}

func (h *Handler) resetRotation(c *gin.Context) {
	n, err := h.service.ResetRotation(c.Request.Context(), c.Query("target"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (h *Handler) dedupe(c *gin.Context) {
	removed, err := h.service.Deduplicate(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) integrity(c *gin.Context) {
	report, err := h.service.CheckIntegrity(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) collectionStats(c *gin.Context) {
	stats, err := h.service.CollectionStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// fail maps domain errors onto status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	var (
		nf *domain.NotFoundError
		ve *domain.ValidationError
		te *domain.TransientStoreError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmptyCollection), errors.Is(err, domain.ErrNoTargets):
		status = http.StatusConflict
	case errors.As(err, &nf):
		status = http.StatusNotFound
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &te):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
