package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"member-chat/internal/store"
)

// Store is the narrow persistence surface the router consumes. The durable
// store is the single authority for message, conversation and counter state;
// the gateway holds none of it between requests.
type Store interface {
	InsertMessage(ctx context.Context, conversationID, senderID int, content string) (store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int) error
	MarkMessageRead(ctx context.Context, messageID, readerID int) (time.Time, error)
	DeleteMessage(ctx context.Context, messageID int) error
	DeleteMessagesByConversation(ctx context.Context, conversationID int) error
	UpdateMessage(ctx context.Context, messageID int, content string) (store.Message, error)
	GetConversationMembers(ctx context.Context, conversationID int) ([]int, error)
	DeleteConversationMembers(ctx context.Context, conversationID int) error
	DeleteConversation(ctx context.Context, conversationID int) error
	UpdateConversation(ctx context.Context, conversationID int, patch store.ConversationPatch) (store.Conversation, error)
	GetUserDisplayInfo(ctx context.Context, userID int) (store.DisplayInfo, error)
	CountUnread(ctx context.Context, conversationID, memberID int) (int, error)
	SetUnreadCounter(ctx context.Context, conversationID, memberID, value int) error
	ListConversationsForUser(ctx context.Context, userID int) ([]store.ConversationView, error)
}

// Gateway routes decoded client events: validate, persist, then fan out.
// Persistence strictly precedes broadcast; a failed operation emits a scoped
// error to the caller and nothing to anyone else.
type Gateway struct {
	rooms   *RoomManager
	store   Store
	cluster *Cluster
	log     *zap.SugaredLogger

	// unreadMu serializes unread recompute+persist pairs (see syncUnread).
	unreadMu sync.Mutex

	maxMessageSize int64
	sendBuffer     int
}

func New(rooms *RoomManager, st Store, cluster *Cluster, maxMessageSize int64, sendBuffer int) *Gateway {
	if maxMessageSize <= 0 {
		maxMessageSize = 4096
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Gateway{
		rooms:          rooms,
		store:          st,
		cluster:        cluster,
		log:            zap.S().With("component", "gateway"),
		maxMessageSize: maxMessageSize,
		sendBuffer:     sendBuffer,
	}
}

// admit binds a verified user id to a fresh connection and enrolls it in
// its private group.
func (g *Gateway) admit(c *Conn) {
	g.rooms.Admit(c)
	c.log.Infow("connection admitted")
}

func (g *Gateway) disconnect(c *Conn) {
	g.rooms.Drop(c)
	c.close()
	c.log.Infow("connection dropped")
}

// HandleEvent decodes one inbound frame and runs the matching operation.
func (g *Gateway) HandleEvent(ctx context.Context, c *Conn, raw []byte) {
	ev, err := decodeEvent(raw)
	if err != nil {
		if gerr, ok := err.(*Error); ok {
			c.sendError(gerr)
		}
		return
	}

	var gerr *Error
	switch e := ev.(type) {
	case JoinConversation:
		g.handleJoin(c, e)
	case LeaveConversation:
		g.handleLeave(c, e)
	case SendMessage:
		gerr = g.handleSendMessage(ctx, c, e)
	case MarkConversationRead:
		gerr = g.handleMarkConversationRead(ctx, c, e)
	case DeleteConversation:
		gerr = g.handleDeleteConversation(ctx, c, e)
	case DeleteMessage:
		gerr = g.handleDeleteMessage(ctx, c, e)
	case UpdateMessage:
		gerr = g.handleUpdateMessage(ctx, c, e)
	case UpdateConversation:
		gerr = g.handleUpdateConversation(ctx, c, e)
	case MessageReadReceipt:
		gerr = g.handleMessageReadReceipt(ctx, c, e)
	case GetConversations:
		gerr = g.handleGetConversations(ctx, c)
	}
	if gerr != nil {
		c.sendError(gerr)
	}
}

// broadcast fans an event out to a local group and, when clustering is on,
// to the same group on sibling instances.
func (g *Gateway) broadcast(ctx context.Context, group, event string, payload any) {
	g.rooms.Broadcast(group, event, payload)
	if g.cluster != nil {
		g.cluster.Publish(ctx, group, event, payload)
	}
}

// notifyMembers delivers the payload to every member's private group so a
// member not currently viewing the conversation still gets the live update.
func (g *Gateway) notifyMembers(ctx context.Context, members []int, event string, payload any) {
	for _, id := range members {
		g.broadcast(ctx, privateGroup(id), event, payload)
	}
}

func (g *Gateway) handleJoin(c *Conn, e JoinConversation) {
	g.rooms.Join(c, conversationGroup(e.ConversationID))
	c.sendEvent(EvJoinConversation, joinAckPayload{ConversationID: e.ConversationID, Joined: true})
}

func (g *Gateway) handleLeave(c *Conn, e LeaveConversation) {
	g.rooms.Leave(c, conversationGroup(e.ConversationID))
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Conn, e SendMessage) *Error {
	msg, err := g.store.InsertMessage(ctx, e.ConversationID, c.UserID, e.Content)
	if err != nil {
		return persistenceErr(EvSendMessage, "Failed to save message", err)
	}

	info, err := g.store.GetUserDisplayInfo(ctx, c.UserID)
	if err != nil {
		return persistenceErr(EvSendMessage, "Failed to load sender", err)
	}
	msg.SenderName = info.Name
	msg.SenderAvatar = info.Avatar

	members, err := g.store.GetConversationMembers(ctx, e.ConversationID)
	if err != nil {
		return persistenceErr(EvSendMessage, "Failed to load conversation members", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvMessage, msg)
	g.notifyMembers(ctx, members, EvMessage, msg)

	g.syncUnread(ctx, e.ConversationID, members, c.UserID)
	return nil
}

func (g *Gateway) handleMarkConversationRead(ctx context.Context, c *Conn, e MarkConversationRead) *Error {
	if err := g.store.MarkConversationRead(ctx, e.ConversationID, c.UserID); err != nil {
		return persistenceErr(EvMarkConversationRead, "Failed to mark conversation read", err)
	}

	payload := conversationReadPayload{ConversationID: e.ConversationID, UserID: c.UserID}
	g.broadcast(ctx, privateGroup(c.UserID), EvConversationRead, payload)
	g.broadcast(ctx, conversationGroup(e.ConversationID), EvConversationReadBy, payload)

	members, err := g.store.GetConversationMembers(ctx, e.ConversationID)
	if err != nil {
		g.log.Errorw("load members for unread resync", "conversation", e.ConversationID, "error", err)
		return nil
	}
	g.syncUnread(ctx, e.ConversationID, members, 0)
	return nil
}

// handleDeleteConversation removes children before the parent: members and
// counters, then messages and read marks, then the conversation row. The
// earliest failing stage is reported and nothing is broadcast.
func (g *Gateway) handleDeleteConversation(ctx context.Context, c *Conn, e DeleteConversation) *Error {
	if err := g.store.DeleteConversationMembers(ctx, e.ConversationID); err != nil {
		return persistenceErr(EvDeleteConversation, "Failed to delete conversation members", err)
	}
	if err := g.store.DeleteMessagesByConversation(ctx, e.ConversationID); err != nil {
		return persistenceErr(EvDeleteConversation, "Failed to delete conversation messages", err)
	}
	if err := g.store.DeleteConversation(ctx, e.ConversationID); err != nil {
		return persistenceErr(EvDeleteConversation, "Failed to delete conversation", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvConversationDeleted,
		conversationDeletedPayload{ConversationID: e.ConversationID})
	return nil
}

func (g *Gateway) handleDeleteMessage(ctx context.Context, c *Conn, e DeleteMessage) *Error {
	if err := g.store.DeleteMessage(ctx, e.MessageID); err != nil {
		return persistenceErr(EvDeleteMessage, "Failed to delete message", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvMessageDeleted,
		messageDeletedPayload{MessageID: e.MessageID, ConversationID: e.ConversationID})
	return nil
}

func (g *Gateway) handleUpdateMessage(ctx context.Context, c *Conn, e UpdateMessage) *Error {
	msg, err := g.store.UpdateMessage(ctx, e.MessageID, e.Content)
	if err != nil {
		return persistenceErr(EvUpdateMessage, "Failed to update message", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvMessageUpdated, msg)
	return nil
}

func (g *Gateway) handleUpdateConversation(ctx context.Context, c *Conn, e UpdateConversation) *Error {
	conv, err := g.store.UpdateConversation(ctx, e.ConversationID, e.Updates)
	if err != nil {
		return persistenceErr(EvUpdateConversation, "Failed to update conversation", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvConversationUpdated, conv)
	return nil
}

func (g *Gateway) handleMessageReadReceipt(ctx context.Context, c *Conn, e MessageReadReceipt) *Error {
	readAt, err := g.store.MarkMessageRead(ctx, e.MessageID, c.UserID)
	if err != nil {
		return persistenceErr(EvMessageReadReceipt, "Failed to mark message read", err)
	}

	g.broadcast(ctx, conversationGroup(e.ConversationID), EvMessageRead, messageReadPayload{
		MessageID:      e.MessageID,
		ConversationID: e.ConversationID,
		ReaderID:       c.UserID,
		ReadAt:         readAt,
	})
	return nil
}

func (g *Gateway) handleGetConversations(ctx context.Context, c *Conn) *Error {
	views, err := g.store.ListConversationsForUser(ctx, c.UserID)
	if err != nil {
		return persistenceErr(EvGetConversations, "Failed to load conversations", err)
	}

	c.sendEvent(EvConversations, views)
	return nil
}
