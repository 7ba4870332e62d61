package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

// Message state machine: Sent -> Delivered -> Read, with Deleted orthogonal.
// Flags are monotonic; deletion hides content but never rolls back receipts.

// handleJoin adds the connection to the room and runs the receipt-on-join
// transition: anything sent to this user while away becomes delivered now,
// with receipts pushed to the sender side.
func (g *Gateway) handleJoin(ctx context.Context, conn *Conn, otherUserID int) {
	roomID := g.rooms.Join(conn.ID, conn.UserID, otherUserID)
	conn.addRoom(roomID)

	ids, err := g.messages.MarkConversationDelivered(ctx, roomID, conn.UserID)
	if err != nil {
		log.Printf("receipt-on-join failed room=%s user=%d: %v", roomID, conn.UserID, err)
		return
	}
	for _, messageID := range ids {
		g.sendToUser(otherUserID, models.ServerEvent{
			Event: models.EventMessageDelivered,
			Data:  models.MessageDeliveredEvent{MessageID: messageID},
		})
	}
}

// handleDelivered processes an explicit delivery ack from the receiving
// client. The receipt reaches the sender only on a real Sent->Delivered
// transition, so duplicate acks stay silent.
func (g *Gateway) handleDelivered(ctx context.Context, conn *Conn, messageID int) {
	msg, err := g.messages.GetMessage(ctx, messageID)
	if err != nil {
		if !errors.Is(err, repositories.ErrMessageNotFound) {
			log.Printf("delivered ack lookup failed message=%d: %v", messageID, err)
		}
		return
	}
	if msg.ReceiverID != conn.UserID {
		return
	}

	changed, err := g.messages.MarkDelivered(ctx, messageID, conn.UserID)
	if err != nil {
		log.Printf("mark delivered failed message=%d: %v", messageID, err)
		return
	}
	if !changed {
		return
	}
	g.sendToUser(msg.SenderID, models.ServerEvent{
		Event: models.EventMessageDelivered,
		Data:  models.MessageDeliveredEvent{MessageID: messageID},
	})
}

// handleMarkRead bulk-reads a whole conversation for the caller. One
// messages:read event covers however many messages transitioned; a repeat
// call transitions nothing and emits nothing.
func (g *Gateway) handleMarkRead(ctx context.Context, conn *Conn, conversationID string) {
	a, b, err := ParticipantIDs(conversationID)
	if err != nil || (conn.UserID != a && conn.UserID != b) {
		g.sendError(conn, models.ErrCodeValidation, "invalid conversation id", "")
		return
	}
	other := a
	if other == conn.UserID {
		other = b
	}

	readAt := time.Now().UTC()
	count, err := g.messages.MarkRead(ctx, conversationID, conn.UserID, readAt)
	if err != nil {
		log.Printf("mark read failed conversation=%s reader=%d: %v", conversationID, conn.UserID, err)
		g.sendError(conn, models.ErrCodePersistence, "failed to mark read", "")
		return
	}
	if count == 0 {
		return
	}

	g.sendToUser(other, models.ServerEvent{
		Event: models.EventMessagesRead,
		Data: models.MessagesReadEvent{
			ConversationID: conversationID,
			ReadBy:         conn.UserID,
			ReadAt:         readAt,
			Count:          count,
		},
	})
}

// BroadcastMessageDeleted notifies joined room members of a soft delete. The
// REST surface drives the deletion itself.
func (g *Gateway) BroadcastMessageDeleted(conversationID string, messageID int) {
	ev := models.ServerEvent{
		Event: models.EventMessageDeleted,
		Data:  models.MessageDeletedEvent{MessageID: messageID},
	}
	for _, member := range g.rooms.MembersOf(conversationID) {
		if conn := g.lookup(member); conn != nil {
			g.deliver(conn, ev)
		}
	}
}
