package gateway

import (
	"context"
	"sync"
	"time"

	"member-chat/internal/store"
)

type readKey struct {
	messageID int
	userID    int
}

type counterKey struct {
	conversationID int
	userID         int
}

// mockStore is an in-memory persistence gateway with per-call error
// injection. Safe for concurrent use.
type mockStore struct {
	mu sync.Mutex

	nextMessageID int
	messages      []store.Message
	reads         map[readKey]time.Time
	counters      map[counterKey]int
	conversations map[int]store.Conversation
	members       map[int][]int
	displays      map[int]store.DisplayInfo

	insertErr          error
	markConvReadErr    error
	deleteMembersErr   error
	deleteMessagesErr  error
	deleteConvErr      error
	setCounterErr      error
	listForUserErr     error
	insertInvoked      int
	setCounterInvoked  int
	deleteCallSequence []string
}

func newMockStore() *mockStore {
	return &mockStore{
		reads:         make(map[readKey]time.Time),
		counters:      make(map[counterKey]int),
		conversations: make(map[int]store.Conversation),
		members:       make(map[int][]int),
		displays:      make(map[int]store.DisplayInfo),
	}
}

func (m *mockStore) addConversation(id int, memberIDs ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[id] = store.Conversation{ID: id}
	m.members[id] = memberIDs
}

func (m *mockStore) counter(conversationID, userID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey{conversationID, userID}]
}

func (m *mockStore) InsertMessage(_ context.Context, conversationID, senderID int, content string) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertInvoked++
	if m.insertErr != nil {
		return store.Message{}, m.insertErr
	}
	m.nextMessageID++
	msg := store.Message{
		ID:             m.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockStore) MarkConversationRead(_ context.Context, conversationID, readerID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markConvReadErr != nil {
		return m.markConvReadErr
	}
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.SenderID != readerID {
			key := readKey{msg.ID, readerID}
			if _, ok := m.reads[key]; !ok {
				m.reads[key] = time.Now()
			}
		}
	}
	return nil
}

func (m *mockStore) MarkMessageRead(_ context.Context, messageID, readerID int) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := readKey{messageID, readerID}
	if at, ok := m.reads[key]; ok {
		return at, nil
	}
	at := time.Now()
	m.reads[key] = at
	return at, nil
}

func (m *mockStore) DeleteMessage(_ context.Context, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ID == messageID {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) DeleteMessagesByConversation(_ context.Context, conversationID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCallSequence = append(m.deleteCallSequence, "messages")
	if m.deleteMessagesErr != nil {
		return m.deleteMessagesErr
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *mockStore) UpdateMessage(_ context.Context, messageID int, content string) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ID == messageID {
			m.messages[i].Content = content
			return m.messages[i], nil
		}
	}
	return store.Message{}, store.ErrNotFound
}

func (m *mockStore) GetConversationMembers(_ context.Context, conversationID int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.members[conversationID]...), nil
}

func (m *mockStore) DeleteConversationMembers(_ context.Context, conversationID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCallSequence = append(m.deleteCallSequence, "members")
	if m.deleteMembersErr != nil {
		return m.deleteMembersErr
	}
	delete(m.members, conversationID)
	for key := range m.counters {
		if key.conversationID == conversationID {
			delete(m.counters, key)
		}
	}
	return nil
}

func (m *mockStore) DeleteConversation(_ context.Context, conversationID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCallSequence = append(m.deleteCallSequence, "conversation")
	if m.deleteConvErr != nil {
		return m.deleteConvErr
	}
	if _, ok := m.conversations[conversationID]; !ok {
		return store.ErrNotFound
	}
	delete(m.conversations, conversationID)
	return nil
}

func (m *mockStore) UpdateConversation(_ context.Context, conversationID int, patch store.ConversationPatch) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	if patch.Name != nil {
		conv.Name = *patch.Name
	}
	if patch.AvatarURL != nil {
		conv.AvatarURL = *patch.AvatarURL
	}
	conv.UpdatedAt = time.Now()
	m.conversations[conversationID] = conv
	return conv, nil
}

func (m *mockStore) GetUserDisplayInfo(_ context.Context, userID int) (store.DisplayInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.displays[userID]; ok {
		return info, nil
	}
	return store.DisplayInfo{Name: "user"}, nil
}

func (m *mockStore) CountUnread(_ context.Context, conversationID, memberID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID || msg.SenderID == memberID {
			continue
		}
		if _, read := m.reads[readKey{msg.ID, memberID}]; !read {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) SetUnreadCounter(_ context.Context, conversationID, memberID, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCounterInvoked++
	if m.setCounterErr != nil {
		return m.setCounterErr
	}
	m.counters[counterKey{conversationID, memberID}] = value
	return nil
}

func (m *mockStore) ListConversationsForUser(_ context.Context, userID int) ([]store.ConversationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listForUserErr != nil {
		return nil, m.listForUserErr
	}
	var views []store.ConversationView
	for id, conv := range m.conversations {
		belongs := false
		for _, member := range m.members[id] {
			if member == userID {
				belongs = true
				break
			}
		}
		if !belongs {
			continue
		}
		view := store.ConversationView{Conversation: conv}
		for _, msg := range m.messages {
			if msg.ConversationID == id {
				view.Messages = append(view.Messages, msg)
			}
		}
		views = append(views, view)
	}
	return views, nil
}
