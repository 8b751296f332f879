package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mcq-bot/internal/app"
	"mcq-bot/internal/domain"
)

type WSHandler struct {
	service  *app.BotService
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewWSHandler(service *app.BotService, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeStats streams leaderboard updates for the current day or month bucket.
// The current snapshot is sent first; clients may send {"type":"refresh"} to
// re-read it from the store.
func (h *WSHandler) ServeStats(c *gin.Context) {
	kind := domain.BucketKind(c.DefaultQuery("bucket", string(domain.BucketDay)))
	if kind != domain.BucketDay && kind != domain.BucketMonth {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bucket must be day or month"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	updates, cancel := h.service.Feed().Subscribe(kind)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only this goroutine writes to conn.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "stats", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- h.snapshotMessage(ctx, kind)

	for {
		var inbound inboundMessage
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := json.Unmarshal(data, &inbound); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid message"}}
			continue
		}
		switch inbound.Type {
		case "refresh":
			send <- h.snapshotMessage(ctx, kind)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) snapshotMessage(ctx context.Context, kind domain.BucketKind) outboundMessage[any] {
	update, err := h.service.CurrentStats(ctx, kind)
	if err != nil {
		h.logger.Error().Err(err).Str("bucket", string(kind)).Msg("failed to read stats for feed")
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "stats unavailable"}}
	}
	return outboundMessage[any]{Type: "stats", Payload: update}
}
