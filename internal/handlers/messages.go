package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/repositories"
	"realtime-service/internal/ws"
)

// Realtime is the slice of the gateway the REST surface needs.
type Realtime interface {
	IsOnline(userID int) bool
	BroadcastMessageDeleted(conversationID string, messageID int)
}

// MessageHandler serves the non-realtime surface: backlog fetch, unread
// counts, soft deletes, presence lookups.
type MessageHandler struct {
	messages repositories.MessageRepository
	lastSeen repositories.LastSeenStore
	realtime Realtime
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, lastSeen repositories.LastSeenStore, realtime Realtime) *MessageHandler {
	return &MessageHandler{messages: messages, lastSeen: lastSeen, realtime: realtime}
}

// ListMessages returns a page of the conversation with the given user, oldest
// first. Query params: limit, before_id.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	otherUserID, err := strconv.Atoi(c.Param("other_user_id"))
	if err != nil || otherUserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt("userID")
	if otherUserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot fetch conversation with yourself"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeID, _ := strconv.Atoi(c.DefaultQuery("before_id", "0"))

	conversationID := ws.ChatRoomID(userID, otherUserID)
	msgs, err := h.messages.ListMessages(c.Request.Context(), conversationID, limit, beforeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "messages": msgs})
}

// UnreadCount returns the caller's total unread message count.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := c.GetInt("userID")

	count, err := h.messages.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// DeleteMessage soft-deletes a message for everyone (sender only) and pushes
// message:deleted to joined room members. Receipts survive deletion.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only sender can delete"})
		return
	}

	if err := h.messages.SoftDelete(c.Request.Context(), messageID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	if h.realtime != nil {
		h.realtime.BroadcastMessageDeleted(msg.ConversationID, messageID)
	}
	c.Status(http.StatusNoContent)
}

// Presence returns live presence and, when offline, the last-seen timestamp.
func (h *MessageHandler) Presence(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || targetID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if h.realtime != nil && h.realtime.IsOnline(targetID) {
		c.JSON(http.StatusOK, gin.H{"user_id": targetID, "online": true})
		return
	}

	var lastSeen *time.Time
	if h.lastSeen != nil {
		if t, err := h.lastSeen.Get(c.Request.Context(), targetID); err == nil {
			lastSeen = &t
		}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "online": false, "last_seen": lastSeen})
}
