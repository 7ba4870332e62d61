package ws

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

// Notifier is invoked when a message cannot be delivered over the realtime
// channel, so the receiver still learns of it out of band.
type Notifier interface {
	MessageQueued(ctx context.Context, msg models.Message)
}

// Gateway is the single entry and exit point for realtime traffic. It owns
// the connection table and orchestrates presence, rooms, typing, and the
// message store.
type Gateway struct {
	messages repositories.MessageRepository
	lastSeen repositories.LastSeenStore
	notifier Notifier

	presence *PresenceRegistry
	rooms    *RoomManager
	typing   *TypingCoordinator

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewGateway wires the gateway and its sub-components.
func NewGateway(messages repositories.MessageRepository, lastSeen repositories.LastSeenStore, notifier Notifier, typingTimeout time.Duration) *Gateway {
	g := &Gateway{
		messages: messages,
		lastSeen: lastSeen,
		notifier: notifier,
		presence: NewPresenceRegistry(),
		rooms:    NewRoomManager(),
		conns:    make(map[string]*Conn),
	}
	g.typing = NewTypingCoordinator(typingTimeout, g.broadcastTyping)
	return g
}

// Start launches background work (typing expiry sweep).
func (g *Gateway) Start() {
	g.typing.Start()
}

// Stop halts background work.
func (g *Gateway) Stop() {
	g.typing.Stop()
}

// IsOnline reports live presence for a user.
func (g *Gateway) IsOnline(userID int) bool {
	return g.presence.IsOnline(userID)
}

// Register adds an authenticated connection. The first connection of a user
// broadcasts user:online to everyone sharing an open conversation room.
func (g *Gateway) Register(conn *Conn) {
	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.mu.Unlock()

	wentOnline := g.presence.AddConnection(conn.UserID, conn.ID)
	if wentOnline {
		g.broadcastToPeers(conn.UserID, models.ServerEvent{
			Event: models.EventUserOnline,
			Data:  models.UserOnlineEvent{UserID: conn.UserID},
		})
	}
}

// Unregister tears a connection down: rooms, typing state, presence. Both the
// explicit close and the heartbeat timeout land here.
func (g *Gateway) Unregister(conn *Conn) {
	for _, conversationID := range g.typing.ClearUser(conn.UserID) {
		g.broadcastTyping(conversationID, conn.UserID, false)
	}

	for _, roomID := range conn.joinedRooms() {
		g.rooms.Leave(conn.ID, roomID)
		conn.removeRoom(roomID)
	}

	g.mu.Lock()
	delete(g.conns, conn.ID)
	g.mu.Unlock()

	wentOffline := g.presence.RemoveConnection(conn.UserID, conn.ID)
	if wentOffline {
		lastSeen := time.Now().UTC()
		if err := g.lastSeen.Set(context.Background(), conn.UserID, lastSeen); err != nil {
			log.Printf("last-seen store failed user=%d: %v", conn.UserID, err)
		}
		g.broadcastToPeers(conn.UserID, models.ServerEvent{
			Event: models.EventUserOffline,
			Data:  models.UserOfflineEvent{UserID: conn.UserID, LastSeen: &lastSeen},
		})
	}
}

// HandleMessage routes one inbound client frame.
func (g *Gateway) HandleMessage(conn *Conn, raw []byte) {
	var ev models.ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		g.sendError(conn, models.ErrCodeValidation, "malformed event", "")
		return
	}
	observability.IncWSEvent(ev.Event)

	ctx := context.Background()
	switch ev.Event {
	case models.EventConversationJoin:
		var p models.ConversationPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.OtherUserID <= 0 || p.OtherUserID == conn.UserID {
			g.sendError(conn, models.ErrCodeValidation, "invalid conversation payload", "")
			return
		}
		g.handleJoin(ctx, conn, p.OtherUserID)
	case models.EventConversationLeave:
		var p models.ConversationPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.OtherUserID <= 0 {
			g.sendError(conn, models.ErrCodeValidation, "invalid conversation payload", "")
			return
		}
		roomID := ChatRoomID(conn.UserID, p.OtherUserID)
		g.rooms.Leave(conn.ID, roomID)
		conn.removeRoom(roomID)
	case models.EventMessageSend:
		var p models.SendPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			g.sendError(conn, models.ErrCodeValidation, "invalid send payload", "")
			return
		}
		g.handleSend(ctx, conn, p)
	case models.EventMessageDelivered:
		var p models.DeliveredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.MessageID <= 0 {
			g.sendError(conn, models.ErrCodeValidation, "invalid delivered payload", "")
			return
		}
		g.handleDelivered(ctx, conn, p.MessageID)
	case models.EventChatMarkRead:
		var p models.MarkReadPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			g.sendError(conn, models.ErrCodeValidation, "invalid markRead payload", "")
			return
		}
		g.handleMarkRead(ctx, conn, p.ConversationID)
	case models.EventTypingStart, models.EventTypingStop:
		var p models.TypingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.ReceiverID <= 0 || p.ReceiverID == conn.UserID {
			// Typing is a UI hint; drop bad payloads silently.
			return
		}
		conversationID := ChatRoomID(conn.UserID, p.ReceiverID)
		if ev.Event == models.EventTypingStart {
			g.typing.StartTyping(conn.UserID, conversationID)
		} else {
			g.typing.StopTyping(conn.UserID, conversationID)
		}
	default:
		g.sendError(conn, models.ErrCodeValidation, "unknown event", "")
	}
}

// handleSend persists the message, fans it out to the room, and acknowledges
// the sender, strictly in that order: the sender never observes success
// before the message is durable.
func (g *Gateway) handleSend(ctx context.Context, conn *Conn, p models.SendPayload) {
	if strings.TrimSpace(p.Content) == "" {
		g.sendError(conn, models.ErrCodeValidation, "empty content", p.TempID)
		return
	}
	if p.ReceiverID <= 0 || p.ReceiverID == conn.UserID {
		g.sendError(conn, models.ErrCodeValidation, "invalid receiver", p.TempID)
		return
	}
	msgType := p.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !models.ValidType(msgType) {
		g.sendError(conn, models.ErrCodeValidation, "invalid message type", p.TempID)
		return
	}

	params := repositories.CreateMessageParams{
		ConversationID: ChatRoomID(conn.UserID, p.ReceiverID),
		SenderID:       conn.UserID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Type:           msgType,
		ReplyToID:      p.ReplyToID,
	}
	if p.TempID != "" {
		tag := p.TempID
		params.ClientTag = &tag
	}

	msg, err := g.messages.CreateMessage(ctx, params)
	if err != nil {
		log.Printf("message persist failed sender=%d: %v", conn.UserID, err)
		g.sendError(conn, models.ErrCodePersistence, "failed to store message", p.TempID)
		return
	}

	receiverPresent := false
	for _, member := range g.rooms.MembersOf(msg.ConversationID) {
		peer := g.lookup(member)
		if peer == nil || peer.ID == conn.ID {
			continue
		}
		if peer.UserID == msg.ReceiverID {
			receiverPresent = true
		}
		g.deliver(peer, models.ServerEvent{
			Event: models.EventMessageNew,
			Data:  models.MessageNewEvent{Message: msg},
		})
	}

	// Ack to the sender last, with temp_id echoed for optimistic-UI
	// reconciliation. The sender gets it whether or not it joined the room.
	g.deliver(conn, models.ServerEvent{
		Event: models.EventMessageNew,
		Data:  models.MessageNewEvent{Message: msg, TempID: p.TempID},
	})

	if !receiverPresent && g.notifier != nil {
		g.notifier.MessageQueued(ctx, msg)
	}
}

// sendToUser fans an event out to every connection of a user.
func (g *Gateway) sendToUser(userID int, ev models.ServerEvent) {
	for _, connID := range g.presence.ConnectionsOf(userID) {
		if conn := g.lookup(connID); conn != nil {
			g.deliver(conn, ev)
		}
	}
}

// broadcastToPeers sends an event to every user sharing a live conversation
// room with userID, bounding presence fan-out to interested parties.
func (g *Gateway) broadcastToPeers(userID int, ev models.ServerEvent) {
	seen := make(map[int]struct{})
	for _, roomID := range g.rooms.RoomsInvolving(userID) {
		a, b, err := ParticipantIDs(roomID)
		if err != nil {
			continue
		}
		peer := a
		if peer == userID {
			peer = b
		}
		if _, dup := seen[peer]; dup || peer == userID {
			continue
		}
		seen[peer] = struct{}{}
		g.sendToUser(peer, ev)
	}
}

// broadcastTyping pushes a typing change to room members other than the
// typist. Best-effort.
func (g *Gateway) broadcastTyping(conversationID string, userID int, isTyping bool) {
	ev := models.ServerEvent{
		Event: models.EventUserTyping,
		Data: models.UserTypingEvent{
			UserID:         userID,
			ConversationID: conversationID,
			IsTyping:       isTyping,
		},
	}
	for _, member := range g.rooms.MembersOf(conversationID) {
		conn := g.lookup(member)
		if conn == nil || conn.UserID == userID {
			continue
		}
		g.deliver(conn, ev)
	}
}

func (g *Gateway) lookup(connID string) *Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[connID]
}

// deliver enqueues an event, dropping the connection when its egress buffer
// is full: a stalled client must not block room fan-out.
func (g *Gateway) deliver(conn *Conn, ev models.ServerEvent) {
	if !conn.Enqueue(ev) {
		log.Printf("egress full, dropping conn=%s user=%d", conn.ID, conn.UserID)
		go func() {
			g.Unregister(conn)
			conn.Close()
		}()
	}
}

func (g *Gateway) sendError(conn *Conn, code, message, tempID string) {
	g.deliver(conn, models.ServerEvent{
		Event: models.EventError,
		Data:  models.ErrorEvent{Code: code, Message: message, TempID: tempID},
	})
}
