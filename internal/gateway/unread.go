package gateway

import "context"

// syncUnread recomputes each member's unread counter from the authoritative
// message state, persists it and pushes the new value to the member's
// private group. exclude skips one member (the sender of a new message, who
// never has their own counter touched by it); pass 0 to resync everyone.
//
// Recompute, never increment: concurrent senders and readers interleave
// around persistence calls, and deltas applied in arrival order can drift
// from the true message-read state. A recomputed value is idempotent and
// self-healing regardless of interleaving.
//
// The recompute-persist pair itself is serialized: without that, a stale
// count computed before a concurrent write could be persisted after the
// fresher one and stick until the next event.
func (g *Gateway) syncUnread(ctx context.Context, conversationID int, members []int, exclude int) {
	g.unreadMu.Lock()
	defer g.unreadMu.Unlock()

	for _, member := range members {
		if member == exclude {
			continue
		}

		count, err := g.store.CountUnread(ctx, conversationID, member)
		if err != nil {
			g.log.Errorw("count unread",
				"conversation", conversationID, "member", member, "error", err)
			continue
		}
		if err := g.store.SetUnreadCounter(ctx, conversationID, member, count); err != nil {
			g.log.Errorw("persist unread counter",
				"conversation", conversationID, "member", member, "error", err)
			continue
		}

		g.broadcast(ctx, privateGroup(member), EvConversationUnreadCount,
			unreadCountPayload{ConversationID: conversationID, Count: count})
	}
}
