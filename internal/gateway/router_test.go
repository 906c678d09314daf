package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"member-chat/internal/store"
)

func newTestGateway(st Store) *Gateway {
	return New(NewRoomManager(), st, nil, 4096, 64)
}

func newTestConn(g *Gateway, userID int) *Conn {
	c := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		gw:     g,
		send:   make(chan []byte, 64),
		joined: make(map[string]struct{}),
		log:    zap.NewNop().Sugar(),
	}
	g.admit(c)
	return c
}

func rawEvent(t *testing.T, event string, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(envelope{Event: event, Data: payload})
	require.NoError(t, err)
	return raw
}

func drainFrames(c *Conn) []envelope {
	var frames []envelope
	for {
		select {
		case raw := <-c.send:
			var env envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				frames = append(frames, env)
			}
		default:
			return frames
		}
	}
}

func framesNamed(frames []envelope, event string) []envelope {
	var out []envelope
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func TestSendMessage_DeliversToGroupAndSyncsUnread(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	st.displays[1] = store.DisplayInfo{Name: "Alice", Avatar: "a.png"}
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "hi"}))

	bobFrames := drainFrames(bob)
	messages := framesNamed(bobFrames, EvMessage)
	require.NotEmpty(t, messages)

	var msg store.Message
	require.NoError(t, json.Unmarshal(messages[0].Data, &msg))
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, 1, msg.SenderID)
	require.Equal(t, "Alice", msg.SenderName)

	// Bob's counter recomputes to 1 and is pushed to his private group.
	unread := framesNamed(bobFrames, EvConversationUnreadCount)
	require.Len(t, unread, 1)
	var count unreadCountPayload
	require.NoError(t, json.Unmarshal(unread[0].Data, &count))
	require.Equal(t, 10, count.ConversationID)
	require.Equal(t, 1, count.Count)
	require.Equal(t, 1, st.counter(10, 2))

	// The sender's own counter is never touched by their message.
	aliceFrames := drainFrames(alice)
	require.Empty(t, framesNamed(aliceFrames, EvConversationUnreadCount))
	require.Zero(t, st.counter(10, 1))

	// Members are notified on their private groups regardless of which
	// screen is open: Alice still sees her message land.
	require.NotEmpty(t, framesNamed(aliceFrames, EvMessage))
}

func TestSendMessage_PersistenceFailure_NoBroadcast(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	st.insertErr = errors.New("db down")
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "hi"}))

	require.Empty(t, framesNamed(drainFrames(bob), EvMessage))

	aliceFrames := drainFrames(alice)
	errs := framesNamed(aliceFrames, EvError)
	require.Len(t, errs, 1)
	var ep errorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &ep))
	require.Equal(t, EvSendMessage, ep.Action)
	require.Equal(t, "Failed to save message", ep.Message)
	require.Zero(t, st.setCounterInvoked)
}

func TestSendMessage_ValidationFailure(t *testing.T) {
	st := newMockStore()
	g := newTestGateway(st)
	alice := newTestConn(g, 1)

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10}))

	errs := framesNamed(drainFrames(alice), EvError)
	require.Len(t, errs, 1)
	require.Zero(t, st.insertInvoked)
}

func TestMarkConversationRead(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(alice, conversationGroup(10))
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "hi"}))
	require.Equal(t, 1, st.counter(10, 2))
	drainFrames(alice)
	drainFrames(bob)

	g.HandleEvent(context.Background(), bob,
		rawEvent(t, EvMarkConversationRead, MarkConversationRead{ConversationID: 10}))

	bobFrames := drainFrames(bob)
	reads := framesNamed(bobFrames, EvConversationRead)
	require.NotEmpty(t, reads)
	var rp conversationReadPayload
	require.NoError(t, json.Unmarshal(reads[0].Data, &rp))
	require.Equal(t, 2, rp.UserID)

	aliceFrames := drainFrames(alice)
	readBy := framesNamed(aliceFrames, EvConversationReadBy)
	require.NotEmpty(t, readBy)
	require.NoError(t, json.Unmarshal(readBy[0].Data, &rp))
	require.Equal(t, 2, rp.UserID)

	// Bob's counter recomputes to zero once his read marks land.
	require.Zero(t, st.counter(10, 2))
	unread := framesNamed(bobFrames, EvConversationUnreadCount)
	require.NotEmpty(t, unread)
	var count unreadCountPayload
	require.NoError(t, json.Unmarshal(unread[len(unread)-1].Data, &count))
	require.Zero(t, count.Count)
}

func TestDeleteConversation_OrderAndBroadcast(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(alice, conversationGroup(10))
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvDeleteConversation, DeleteConversation{ConversationID: 10}))

	// Children go before the parent.
	require.Equal(t, []string{"members", "messages", "conversation"}, st.deleteCallSequence)

	for _, c := range []*Conn{alice, bob} {
		deleted := framesNamed(drainFrames(c), EvConversationDeleted)
		require.Len(t, deleted, 1)
		var dp conversationDeletedPayload
		require.NoError(t, json.Unmarshal(deleted[0].Data, &dp))
		require.Equal(t, 10, dp.ConversationID)
	}

	// A subsequent fetch no longer lists it.
	g.HandleEvent(context.Background(), bob, rawEvent(t, EvGetConversations, GetConversations{}))
	convs := framesNamed(drainFrames(bob), EvConversations)
	require.Len(t, convs, 1)
	var views []store.ConversationView
	require.NoError(t, json.Unmarshal(convs[0].Data, &views))
	require.Empty(t, views)
}

func TestDeleteConversation_ReportsEarliestFailingStage(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	st.deleteMembersErr = errors.New("constraint violation")
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvDeleteConversation, DeleteConversation{ConversationID: 10}))

	require.Equal(t, []string{"members"}, st.deleteCallSequence)
	require.Empty(t, framesNamed(drainFrames(bob), EvConversationDeleted))

	errs := framesNamed(drainFrames(alice), EvError)
	require.Len(t, errs, 1)
	var ep errorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &ep))
	require.Equal(t, "Failed to delete conversation members", ep.Message)
}

func TestDeleteAndUpdateMessage(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(bob, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "tpyo"}))
	drainFrames(bob)

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvUpdateMessage, UpdateMessage{MessageID: 1, ConversationID: 10, Content: "typo"}))
	updated := framesNamed(drainFrames(bob), EvMessageUpdated)
	require.Len(t, updated, 1)
	var msg store.Message
	require.NoError(t, json.Unmarshal(updated[0].Data, &msg))
	require.Equal(t, "typo", msg.Content)

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvDeleteMessage, DeleteMessage{MessageID: 1, ConversationID: 10}))
	deleted := framesNamed(drainFrames(bob), EvMessageDeleted)
	require.Len(t, deleted, 1)
	var dp messageDeletedPayload
	require.NoError(t, json.Unmarshal(deleted[0].Data, &dp))
	require.Equal(t, 1, dp.MessageID)
}

func TestUpdateConversation(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(bob, conversationGroup(10))

	name := "planning crew"
	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvUpdateConversation, UpdateConversation{
			ConversationID: 10,
			Updates:        store.ConversationPatch{Name: &name},
		}))

	updated := framesNamed(drainFrames(bob), EvConversationUpdated)
	require.Len(t, updated, 1)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(updated[0].Data, &conv))
	require.Equal(t, "planning crew", conv.Name)
}

func TestMessageReadReceipt(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(alice, conversationGroup(10))

	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "hi"}))
	drainFrames(alice)

	g.HandleEvent(context.Background(), bob,
		rawEvent(t, EvMessageReadReceipt, MessageReadReceipt{MessageID: 1, ConversationID: 10}))

	read := framesNamed(drainFrames(alice), EvMessageRead)
	require.Len(t, read, 1)
	var rp messageReadPayload
	require.NoError(t, json.Unmarshal(read[0].Data, &rp))
	require.Equal(t, 1, rp.MessageID)
	require.Equal(t, 2, rp.ReaderID)
	require.False(t, rp.ReadAt.IsZero())
}

func TestConcurrentSends_CountersSettleExactly(t *testing.T) {
	st := newMockStore()
	st.addConversation(30, 1, 2, 3)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	carol := newTestConn(g, 3)
	g.rooms.Join(carol, conversationGroup(30))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.HandleEvent(context.Background(), alice,
			rawEvent(t, EvSendMessage, SendMessage{ConversationID: 30, Content: "from alice"}))
	}()
	go func() {
		defer wg.Done()
		g.HandleEvent(context.Background(), bob,
			rawEvent(t, EvSendMessage, SendMessage{ConversationID: 30, Content: "from bob"}))
	}()
	wg.Wait()

	// Both persisted, both broadcast.
	require.Equal(t, 2, st.insertInvoked)
	require.Len(t, framesNamed(drainFrames(carol), EvMessage), 4) // group + per-member notify

	// The uninvolved member's counter equals exactly 2 regardless of which
	// persistence call completed first.
	require.Equal(t, 2, st.counter(30, 3))
}

func TestUnknownEvent(t *testing.T) {
	st := newMockStore()
	g := newTestGateway(st)
	alice := newTestConn(g, 1)

	g.HandleEvent(context.Background(), alice, []byte(`{"event":"dance","data":{}}`))

	errs := framesNamed(drainFrames(alice), EvError)
	require.Len(t, errs, 1)
}

func TestDisconnectCleansMembership(t *testing.T) {
	st := newMockStore()
	st.addConversation(10, 1, 2)
	g := newTestGateway(st)

	alice := newTestConn(g, 1)
	bob := newTestConn(g, 2)
	g.rooms.Join(alice, conversationGroup(10))
	g.rooms.Join(bob, conversationGroup(10))

	g.disconnect(bob)
	require.False(t, g.rooms.IsEmpty(conversationGroup(10)))
	require.True(t, g.rooms.IsEmpty(privateGroup(2)))

	// Broadcast after the drop must not reach the closed connection.
	g.HandleEvent(context.Background(), alice,
		rawEvent(t, EvSendMessage, SendMessage{ConversationID: 10, Content: "still here"}))
	require.NotEmpty(t, framesNamed(drainFrames(alice), EvMessage))
}
