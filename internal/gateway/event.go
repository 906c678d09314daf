package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"member-chat/internal/store"
)

// Event names, client -> gateway.
const (
	EvJoinConversation     = "joinConversation"
	EvLeaveConversation    = "leaveConversation"
	EvSendMessage          = "sendMessage"
	EvMarkConversationRead = "markConversationRead"
	EvDeleteConversation   = "deleteConversation"
	EvDeleteMessage        = "deleteMessage"
	EvUpdateMessage        = "updateMessage"
	EvUpdateConversation   = "updateConversation"
	EvMessageReadReceipt   = "messageReadReceipt"
	EvGetConversations     = "getConversations"
)

// Event names, gateway -> client.
const (
	EvMessage                 = "message"
	EvConversationDeleted     = "conversationDeleted"
	EvMessageDeleted          = "messageDeleted"
	EvMessageUpdated          = "messageUpdated"
	EvConversationUpdated     = "conversationUpdated"
	EvConversationRead        = "conversationRead"
	EvConversationReadBy      = "conversationReadBy"
	EvConversationUnreadCount = "conversationUnreadCount"
	EvMessageRead             = "messageRead"
	EvConversations           = "conversations"
	EvError                   = "error"
)

// envelope is the wire frame in both directions: a name tag and a JSON
// payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

// Event is the closed set of operations a client may request. Each variant
// is decoded and validated at the boundary; the router dispatches on the
// concrete type, never on ad hoc field presence.
type Event interface {
	eventName() string
}

type JoinConversation struct {
	ConversationID int `json:"conversationId"`
}

type LeaveConversation struct {
	ConversationID int `json:"conversationId"`
}

type SendMessage struct {
	ConversationID int    `json:"conversationId"`
	Content        string `json:"content"`
}

type MarkConversationRead struct {
	ConversationID int `json:"conversationId"`
}

type DeleteConversation struct {
	ConversationID int `json:"conversationId"`
}

type DeleteMessage struct {
	MessageID      int `json:"messageId"`
	ConversationID int `json:"conversationId"`
}

type UpdateMessage struct {
	MessageID      int    `json:"messageId"`
	ConversationID int    `json:"conversationId"`
	Content        string `json:"content"`
}

type UpdateConversation struct {
	ConversationID int                     `json:"conversationId"`
	Updates        store.ConversationPatch `json:"updates"`
}

type MessageReadReceipt struct {
	MessageID      int `json:"messageId"`
	ConversationID int `json:"conversationId"`
}

type GetConversations struct{}

func (JoinConversation) eventName() string     { return EvJoinConversation }
func (LeaveConversation) eventName() string    { return EvLeaveConversation }
func (SendMessage) eventName() string          { return EvSendMessage }
func (MarkConversationRead) eventName() string { return EvMarkConversationRead }
func (DeleteConversation) eventName() string   { return EvDeleteConversation }
func (DeleteMessage) eventName() string        { return EvDeleteMessage }
func (UpdateMessage) eventName() string        { return EvUpdateMessage }
func (UpdateConversation) eventName() string   { return EvUpdateConversation }
func (MessageReadReceipt) eventName() string   { return EvMessageReadReceipt }
func (GetConversations) eventName() string     { return EvGetConversations }

func decodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, validationErr(env.Event, "malformed frame", err)
	}

	switch env.Event {
	case EvJoinConversation:
		var e JoinConversation
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		return e, nil

	case EvLeaveConversation:
		var e LeaveConversation
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		return e, nil

	case EvSendMessage:
		var e SendMessage
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		if e.Content == "" {
			return nil, validationErr(env.Event, "content is required", nil)
		}
		return e, nil

	case EvMarkConversationRead:
		var e MarkConversationRead
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		return e, nil

	case EvDeleteConversation:
		var e DeleteConversation
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		return e, nil

	case EvDeleteMessage:
		var e DeleteMessage
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.MessageID <= 0 || e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "messageId and conversationId are required", nil)
		}
		return e, nil

	case EvUpdateMessage:
		var e UpdateMessage
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.MessageID <= 0 || e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "messageId and conversationId are required", nil)
		}
		if e.Content == "" {
			return nil, validationErr(env.Event, "content is required", nil)
		}
		return e, nil

	case EvUpdateConversation:
		var e UpdateConversation
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "conversationId is required", nil)
		}
		if e.Updates.Name == nil && e.Updates.AvatarURL == nil {
			return nil, validationErr(env.Event, "updates must not be empty", nil)
		}
		return e, nil

	case EvMessageReadReceipt:
		var e MessageReadReceipt
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, validationErr(env.Event, "malformed payload", err)
		}
		if e.MessageID <= 0 || e.ConversationID <= 0 {
			return nil, validationErr(env.Event, "messageId and conversationId are required", nil)
		}
		return e, nil

	case EvGetConversations:
		return GetConversations{}, nil

	default:
		return nil, validationErr(env.Event, fmt.Sprintf("unknown event %q", env.Event), nil)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(data, v)
}

// Outbound payload shapes.

type joinAckPayload struct {
	ConversationID int  `json:"conversationId"`
	Joined         bool `json:"joined"`
}

type conversationReadPayload struct {
	ConversationID int `json:"conversationId"`
	UserID         int `json:"userId"`
}

type conversationDeletedPayload struct {
	ConversationID int `json:"conversationId"`
}

type messageDeletedPayload struct {
	MessageID      int `json:"messageId"`
	ConversationID int `json:"conversationId"`
}

type messageReadPayload struct {
	MessageID      int       `json:"messageId"`
	ConversationID int       `json:"conversationId"`
	ReaderID       int       `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type unreadCountPayload struct {
	ConversationID int `json:"conversationId"`
	Count          int `json:"count"`
}

type errorPayload struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}
