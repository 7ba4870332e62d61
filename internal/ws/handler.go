package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-service/internal/auth"
	"realtime-service/internal/observability"
)

// Handler upgrades authenticated clients onto the realtime gateway.
type Handler struct {
	gateway   *Gateway
	validator auth.Validator
	heartbeat time.Duration
}

// NewHandler constructs a websocket Handler.
func NewHandler(gateway *Gateway, validator auth.Validator, heartbeat time.Duration) *Handler {
	return &Handler{gateway: gateway, validator: validator, heartbeat: heartbeat}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection, and runs the
// read loop until the transport closes or the heartbeat window lapses.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.RequestMetaFrom(c.Request)
	conn := NewConn(uuid.NewString(), userID, sock)
	conn.DeviceID = meta.DeviceID
	conn.IP = meta.IP
	conn.RequestID = meta.RequestID
	conn.TraceID = span.SpanContext().TraceID().String()

	h.gateway.Register(conn)
	logConnect(conn)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")

	go conn.writePump(h.heartbeat)
	go h.readLoop(conn, sock)
}

func (h *Handler) readLoop(conn *Conn, sock *websocket.Conn) {
	defer func() {
		h.gateway.Unregister(conn)
		conn.Close()
		logDisconnect(conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
	}()

	sock.SetReadLimit(maxMessageSize)
	sock.SetReadDeadline(time.Now().Add(h.heartbeat))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(h.heartbeat))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		sock.SetReadDeadline(time.Now().Add(h.heartbeat))
		h.gateway.HandleMessage(conn, data)
	}
}

func logConnect(conn *Conn) {
	log.Printf("ws connect conn=%s user=%d ip=%s device=%s request_id=%s trace_id=%s",
		conn.ID, conn.UserID, conn.IP, conn.DeviceID, conn.RequestID, conn.TraceID)
}

func logDisconnect(conn *Conn) {
	log.Printf("ws disconnect conn=%s user=%d ip=%s duration=%s",
		conn.ID, conn.UserID, conn.IP, time.Since(conn.ConnectedAt).Round(time.Millisecond))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return c.Query("token")
}
