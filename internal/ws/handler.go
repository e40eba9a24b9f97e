package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/delivery"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/replay"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 75 * time.Second
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler terminates websocket connections and dispatches the message
// envelope protocol.
type Handler struct {
	manager  *ConnectionManager
	verifier TokenVerifier
	delivery *delivery.Service
	replay   *replay.Service
	serverID string
}

// NewHandler constructs a Handler.
func NewHandler(manager *ConnectionManager, verifier TokenVerifier, deliverySvc *delivery.Service, replaySvc *replay.Service, serverID string) *Handler {
	return &Handler{
		manager:  manager,
		verifier: verifier,
		delivery: deliverySvc,
		replay:   replaySvc,
		serverID: serverID,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, registers the socket and runs the read loop
// until the client goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sock := NewSocket(wsConn)
	now := time.Now()
	info := SocketInfo{
		ConnID:        uuid.NewString(),
		SessionID:     sessionID,
		UserID:        userID,
		RemoteAddr:    observability.IPFromRequest(c.Request),
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	h.manager.Register(userID, sock, info)

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		h.manager.Heartbeat(sock)
		return nil
	})

	done := make(chan struct{})
	go h.pingLoop(wsConn, done)

	// The read loop outlives this handler. It keeps the handshake context's
	// values but not its cancellation: net/http cancels a hijacked request's
	// context once the handler returns, and the gin context is recycled.
	loopCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			close(done)
			h.manager.RemoveConnection(sock)
			_ = sock.Close(CloseNormal, "")
		}()

		// The client learns what replay is coming before the flood arrives.
		if err := h.replay.Resync(loopCtx, userID, sock.WriteJSON); err != nil {
			log.Printf("resync failed user=%s: %v", userID, err)
		}

		for {
			_, raw, err := wsConn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("websocket read error user=%s: %v", userID, err)
				}
				return
			}
			h.dispatch(loopCtx, userID, sock, raw)
		}
	}()
}

func (h *Handler) pingLoop(wsConn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := wsConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame. A bad frame answers with a nack to this
// socket only; it never tears down other connections or the process. ctx is
// the handshake context, captured before the read loop starts; the gin
// context is recycled once Handle returns and must not outlive it.
func (h *Handler) dispatch(ctx context.Context, userID string, sock Socket, raw []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.nack(sock, models.NackInvalidPayload, "malformed frame")
		return
	}

	switch frame.Type {
	case models.FrameHello:
		h.manager.SetProtocolVersion(sock, frame.Version)
		_ = sock.WriteJSON(models.HelloAckFrame{
			Type:     models.FrameHelloAck,
			Version:  frame.Version,
			ServerID: h.serverID,
		})

	case models.FrameMessageSend:
		var stored models.Message
		var err error
		if frame.RoomID != "" {
			stored, err = h.delivery.SendRoom(ctx, userID, frame)
		} else {
			stored, err = h.delivery.SendDirect(ctx, userID, frame)
		}
		if err != nil {
			if errors.Is(err, delivery.ErrInvalidPayload) {
				h.nack(sock, models.NackInvalidPayload, err.Error())
			} else {
				log.Printf("message send failed user=%s: %v", userID, err)
				h.nack(sock, models.NackPersistFailed, "could not store message")
			}
			return
		}
		_ = sock.WriteJSON(models.AckFrame{
			Type:            models.FrameMessageAck,
			MessageID:       stored.MessageID,
			ClientMessageID: stored.ClientMessageID,
			Status:          stored.State,
		})

	case models.FrameDeliveredConfirm:
		if frame.MessageID == "" {
			h.nack(sock, models.NackInvalidPayload, "missing messageId")
			return
		}
		if err := h.delivery.ConfirmDelivered(ctx, userID, frame.MessageID); err != nil {
			h.nack(sock, models.NackNotFound, "unknown message")
		}

	case models.FrameMessageRead:
		if frame.MessageID == "" {
			h.nack(sock, models.NackInvalidPayload, "missing messageId")
			return
		}
		if err := h.delivery.MarkRead(ctx, userID, frame.MessageID); err != nil {
			h.nack(sock, models.NackNotFound, "unknown message")
		}

	default:
		h.nack(sock, models.NackInvalidPayload, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (h *Handler) nack(sock Socket, code, message string) {
	_ = sock.WriteJSON(models.NackFrame{
		Type:    models.FrameMessageNack,
		Code:    code,
		Message: message,
	})
}

func (h *Handler) validateToken(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.verifier.Verify(parts[1])
	}
	return "", fmt.Errorf("invalid token")
}
