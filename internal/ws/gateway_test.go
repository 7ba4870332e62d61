package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

func newTestGateway() (*Gateway, *mocks.MessageRepositoryMock, *mocks.LastSeenStoreMock, *mocks.NotifierMock) {
	repo := new(mocks.MessageRepositoryMock)
	lastSeen := new(mocks.LastSeenStoreMock)
	notifier := new(mocks.NotifierMock)
	return NewGateway(repo, lastSeen, notifier, time.Minute), repo, lastSeen, notifier
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(models.ClientEvent{Event: event, Data: data})
	require.NoError(t, err)
	return raw
}

func recvEvent(t *testing.T, conn *Conn) models.ServerEvent {
	t.Helper()
	select {
	case ev := <-conn.Egress():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.ServerEvent{}
	}
}

func assertNoEvent(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case ev := <-conn.Egress():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// joinBoth registers connections for users 1 and 2 and joins them to their
// shared room, draining nothing: no events are produced when backlogs are
// empty and no earlier rooms exist.
func joinBoth(t *testing.T, g *Gateway, repo *mocks.MessageRepositoryMock) (*Conn, *Conn) {
	t.Helper()
	repo.On("MarkConversationDelivered", mock.Anything, "1:2", mock.Anything).Return(nil, nil)

	connA := NewConn("ca", 1, nil)
	g.Register(connA)
	g.HandleMessage(connA, frame(t, models.EventConversationJoin, models.ConversationPayload{OtherUserID: 2}))

	connB := NewConn("cb", 2, nil)
	g.Register(connB)
	g.HandleMessage(connB, frame(t, models.EventConversationJoin, models.ConversationPayload{OtherUserID: 1}))

	// Registering B after A's join produces a user:online push to A.
	ev := recvEvent(t, connA)
	require.Equal(t, models.EventUserOnline, ev.Event)
	return connA, connB
}

func TestSendPersistsThenFansOut(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	stored := models.Message{ID: 7, ConversationID: "1:2", SenderID: 1, ReceiverID: 2, Content: "hi", Type: "text"}
	repo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p repositories.CreateMessageParams) bool {
		return p.ConversationID == "1:2" && p.SenderID == 1 && p.ReceiverID == 2 &&
			p.Content == "hi" && p.Type == "text" && p.ClientTag != nil && *p.ClientTag == "tmp-1"
	})).Return(stored, nil).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "hi", TempID: "tmp-1"}))

	evB := recvEvent(t, connB)
	require.Equal(t, models.EventMessageNew, evB.Event)
	dataB := evB.Data.(models.MessageNewEvent)
	assert.Equal(t, 7, dataB.Message.ID)
	assert.Empty(t, dataB.TempID)

	evA := recvEvent(t, connA)
	require.Equal(t, models.EventMessageNew, evA.Event)
	dataA := evA.Data.(models.MessageNewEvent)
	assert.Equal(t, 7, dataA.Message.ID)
	assert.Equal(t, "tmp-1", dataA.TempID)

	repo.AssertExpectations(t)
}

func TestSendOrderingPerReceiver(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	first := models.Message{ID: 1, ConversationID: "1:2", SenderID: 1, ReceiverID: 2, Content: "m1"}
	second := models.Message{ID: 2, ConversationID: "1:2", SenderID: 1, ReceiverID: 2, Content: "m2"}
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(first, nil).Once()
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(second, nil).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "m1"}))
	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "m2"}))

	assert.Equal(t, 1, recvEvent(t, connB).Data.(models.MessageNewEvent).Message.ID)
	assert.Equal(t, 2, recvEvent(t, connB).Data.(models.MessageNewEvent).Message.ID)
}

func TestSendValidation(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA := NewConn("ca", 1, nil)
	g.Register(connA)

	cases := []models.SendPayload{
		{ReceiverID: 2, Content: "   ", TempID: "t1"},
		{ReceiverID: 0, Content: "hi", TempID: "t2"},
		{ReceiverID: 1, Content: "hi", TempID: "t3"},
		{ReceiverID: 2, Content: "hi", Type: "carrier-pigeon", TempID: "t4"},
	}
	for _, p := range cases {
		g.HandleMessage(connA, frame(t, models.EventMessageSend, p))
		ev := recvEvent(t, connA)
		require.Equal(t, models.EventError, ev.Event)
		data := ev.Data.(models.ErrorEvent)
		assert.Equal(t, models.ErrCodeValidation, data.Code)
		assert.Equal(t, p.TempID, data.TempID)
	}

	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendOfflineReceiverDispatchesNotification(t *testing.T) {
	g, repo, _, notifier := newTestGateway()
	repo.On("MarkConversationDelivered", mock.Anything, "1:2", 1).Return(nil, nil).Once()

	connA := NewConn("ca", 1, nil)
	g.Register(connA)
	g.HandleMessage(connA, frame(t, models.EventConversationJoin, models.ConversationPayload{OtherUserID: 2}))

	stored := models.Message{ID: 9, ConversationID: "1:2", SenderID: 1, ReceiverID: 2, Content: "hi"}
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(stored, nil).Once()
	notifier.On("MessageQueued", mock.Anything, stored).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "hi"}))

	// Sender still gets the durable echo.
	require.Equal(t, models.EventMessageNew, recvEvent(t, connA).Event)
	notifier.AssertExpectations(t)
}

func TestSendPersistenceError(t *testing.T) {
	g, repo, _, notifier := newTestGateway()
	connA, _ := joinBoth(t, g, repo)

	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "hi", TempID: "t9"}))

	ev := recvEvent(t, connA)
	require.Equal(t, models.EventError, ev.Event)
	data := ev.Data.(models.ErrorEvent)
	assert.Equal(t, models.ErrCodePersistence, data.Code)
	assert.Equal(t, "t9", data.TempID)
	notifier.AssertNotCalled(t, "MessageQueued", mock.Anything, mock.Anything)
}

func TestDeliveredAckEmitsReceiptOnce(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	msg := models.Message{ID: 5, ConversationID: "1:2", SenderID: 1, ReceiverID: 2}
	repo.On("GetMessage", mock.Anything, 5).Return(msg, nil).Twice()
	repo.On("MarkDelivered", mock.Anything, 5, 2).Return(true, nil).Once()
	repo.On("MarkDelivered", mock.Anything, 5, 2).Return(false, nil).Once()

	g.HandleMessage(connB, frame(t, models.EventMessageDelivered, models.DeliveredPayload{MessageID: 5}))
	ev := recvEvent(t, connA)
	require.Equal(t, models.EventMessageDelivered, ev.Event)
	assert.Equal(t, 5, ev.Data.(models.MessageDeliveredEvent).MessageID)

	// Duplicate ack transitions nothing and stays silent.
	g.HandleMessage(connB, frame(t, models.EventMessageDelivered, models.DeliveredPayload{MessageID: 5}))
	assertNoEvent(t, connA)
	repo.AssertExpectations(t)
}

func TestDeliveredAckIgnoresForeignReceiver(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, _ := joinBoth(t, g, repo)

	// Message addressed to user 2; user 1 acking it must not transition state.
	msg := models.Message{ID: 5, ConversationID: "1:2", SenderID: 2, ReceiverID: 2}
	repo.On("GetMessage", mock.Anything, 5).Return(msg, nil).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageDelivered, models.DeliveredPayload{MessageID: 5}))

	repo.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadIdempotent(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	repo.On("MarkRead", mock.Anything, "1:2", 2, mock.Anything).Return(3, nil).Once()
	repo.On("MarkRead", mock.Anything, "1:2", 2, mock.Anything).Return(0, nil).Once()

	g.HandleMessage(connB, frame(t, models.EventChatMarkRead, models.MarkReadPayload{ConversationID: "1:2"}))
	ev := recvEvent(t, connA)
	require.Equal(t, models.EventMessagesRead, ev.Event)
	data := ev.Data.(models.MessagesReadEvent)
	assert.Equal(t, "1:2", data.ConversationID)
	assert.Equal(t, 2, data.ReadBy)
	assert.Equal(t, 3, data.Count)

	g.HandleMessage(connB, frame(t, models.EventChatMarkRead, models.MarkReadPayload{ConversationID: "1:2"}))
	assertNoEvent(t, connA)
	repo.AssertExpectations(t)
}

func TestMarkReadRejectsNonParticipant(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, _ := joinBoth(t, g, repo)

	g.HandleMessage(connA, frame(t, models.EventChatMarkRead, models.MarkReadPayload{ConversationID: "3:4"}))

	ev := recvEvent(t, connA)
	require.Equal(t, models.EventError, ev.Event)
	repo.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiptOnJoin(t *testing.T) {
	g, repo, _, _ := newTestGateway()

	connA := NewConn("ca", 1, nil)
	g.Register(connA)
	repo.On("MarkConversationDelivered", mock.Anything, "1:2", 1).Return(nil, nil).Once()
	g.HandleMessage(connA, frame(t, models.EventConversationJoin, models.ConversationPayload{OtherUserID: 2}))

	// B joins with a backlog from A: the pending messages flip to delivered
	// and A gets a receipt per message.
	connB := NewConn("cb", 2, nil)
	g.Register(connB)
	require.Equal(t, models.EventUserOnline, recvEvent(t, connA).Event)

	repo.On("MarkConversationDelivered", mock.Anything, "1:2", 2).Return([]int{4, 5}, nil).Once()
	g.HandleMessage(connB, frame(t, models.EventConversationJoin, models.ConversationPayload{OtherUserID: 1}))

	assert.Equal(t, 4, recvEvent(t, connA).Data.(models.MessageDeliveredEvent).MessageID)
	assert.Equal(t, 5, recvEvent(t, connA).Data.(models.MessageDeliveredEvent).MessageID)
	repo.AssertExpectations(t)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	g, repo, lastSeen, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	lastSeen.On("Set", mock.Anything, 2, mock.Anything).Return(nil).Once()

	g.Unregister(connB)

	ev := recvEvent(t, connA)
	require.Equal(t, models.EventUserOffline, ev.Event)
	data := ev.Data.(models.UserOfflineEvent)
	assert.Equal(t, 2, data.UserID)
	require.NotNil(t, data.LastSeen)
	assert.False(t, g.IsOnline(2))
	lastSeen.AssertExpectations(t)
}

func TestDisconnectSecondTabStaysOnline(t *testing.T) {
	g, repo, lastSeen, _ := newTestGateway()
	connA, _ := joinBoth(t, g, repo)

	tab2 := NewConn("cb2", 2, nil)
	g.Register(tab2)
	g.Unregister(tab2)

	assert.True(t, g.IsOnline(2))
	assertNoEvent(t, connA)
	lastSeen.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisconnectStopsActiveTyping(t *testing.T) {
	g, repo, lastSeen, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	g.HandleMessage(connB, frame(t, models.EventTypingStart, models.TypingPayload{ReceiverID: 1}))
	ev := recvEvent(t, connA)
	require.Equal(t, models.EventUserTyping, ev.Event)
	require.True(t, ev.Data.(models.UserTypingEvent).IsTyping)

	lastSeen.On("Set", mock.Anything, 2, mock.Anything).Return(nil).Once()
	g.Unregister(connB)

	ev = recvEvent(t, connA)
	require.Equal(t, models.EventUserTyping, ev.Event)
	assert.False(t, ev.Data.(models.UserTypingEvent).IsTyping)
}

func TestTypingExcludesTypist(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	g.HandleMessage(connA, frame(t, models.EventTypingStart, models.TypingPayload{ReceiverID: 2}))

	ev := recvEvent(t, connB)
	require.Equal(t, models.EventUserTyping, ev.Event)
	data := ev.Data.(models.UserTypingEvent)
	assert.Equal(t, 1, data.UserID)
	assert.Equal(t, "1:2", data.ConversationID)
	assertNoEvent(t, connA)
}

func TestBroadcastMessageDeleted(t *testing.T) {
	g, repo, _, _ := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	g.BroadcastMessageDeleted("1:2", 11)

	assert.Equal(t, 11, recvEvent(t, connA).Data.(models.MessageDeletedEvent).MessageID)
	assert.Equal(t, 11, recvEvent(t, connB).Data.(models.MessageDeletedEvent).MessageID)
}

func TestUnknownEventRejected(t *testing.T) {
	g, _, _, _ := newTestGateway()
	connA := NewConn("ca", 1, nil)
	g.Register(connA)

	g.HandleMessage(connA, frame(t, "message:teleport", struct{}{}))

	ev := recvEvent(t, connA)
	require.Equal(t, models.EventError, ev.Event)
	assert.Equal(t, models.ErrCodeValidation, ev.Data.(models.ErrorEvent).Code)
}

func TestMalformedFrameRejected(t *testing.T) {
	g, _, _, _ := newTestGateway()
	connA := NewConn("ca", 1, nil)
	g.Register(connA)

	g.HandleMessage(connA, []byte("{not json"))

	ev := recvEvent(t, connA)
	require.Equal(t, models.EventError, ev.Event)
}

func TestLeaveConversationStopsFanOut(t *testing.T) {
	g, repo, _, notifier := newTestGateway()
	connA, connB := joinBoth(t, g, repo)

	g.HandleMessage(connB, frame(t, models.EventConversationLeave, models.ConversationPayload{OtherUserID: 1}))

	stored := models.Message{ID: 3, ConversationID: "1:2", SenderID: 1, ReceiverID: 2, Content: "hi"}
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(stored, nil).Once()
	// With no receiver connection left in the room, delivery falls back to
	// the notification channel.
	notifier.On("MessageQueued", mock.Anything, stored).Once()

	g.HandleMessage(connA, frame(t, models.EventMessageSend, models.SendPayload{ReceiverID: 2, Content: "hi"}))

	// Sender echo still arrives; the departed connection gets nothing.
	require.Equal(t, models.EventMessageNew, recvEvent(t, connA).Event)
	assertNoEvent(t, connB)
}
