package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teamspace/teamspace/internal/types"
)

// Intents accepted on the general event channel. The dispatch switch over
// these is closed: an unlisted type yields an error event, never silence.
const (
	IntentAuthenticate           = "authenticate"
	IntentJoinDocument           = "join-document"
	IntentLeaveDocument          = "leave-document"
	IntentCursorUpdate           = "cursor-update"
	IntentSelectionUpdate        = "selection-update"
	IntentTaskUpdate             = "task-update"
	IntentSendNotification       = "send-notification"
	IntentCommentAdd             = "comment-add"
	IntentJoinWorkspacePresence  = "join-workspace-presence"
	IntentLeaveWorkspacePresence = "leave-workspace-presence"
	IntentTypingStart            = "typing-start"
	IntentTypingStop             = "typing-stop"
)

// Events emitted to clients.
const (
	EventAuthenticated          = "authenticated"
	EventAuthError              = "auth-error"
	EventError                  = "error"
	EventRoomUsers              = "room-users"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventCursorUpdated          = "cursor-updated"
	EventSelectionUpdated       = "selection-updated"
	EventUserTyping             = "user-typing"
	EventTaskUpdated            = "task-updated"
	EventNotification           = "notification"
	EventCommentAdded           = "comment-added"
	EventWorkspacePresence      = "workspace-presence-update"
	EventWorkspacePresenceError = "workspace-presence-error"
)

// ClientMessage is the envelope for every inbound intent.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type AuthenticatePayload struct {
	SessionId string `json:"sessionId,omitempty"`
}

type JoinDocumentPayload struct {
	DocumentId string         `json:"documentId"`
	User       types.UserInfo `json:"user"`
}

type LeaveDocumentPayload struct {
	DocumentId string `json:"documentId"`
}

type CursorUpdatePayload struct {
	DocumentId string            `json:"documentId"`
	Cursor     types.CursorRange `json:"cursor"`
}

type SelectionUpdatePayload struct {
	DocumentId string          `json:"documentId"`
	Selection  json.RawMessage `json:"selection"`
}

type TaskUpdatePayload struct {
	WorkspaceId string          `json:"workspaceId"`
	Task        json.RawMessage `json:"task"`
	Action      string          `json:"action"`
}

type SendNotificationPayload struct {
	UserId       int             `json:"userId"`
	Notification json.RawMessage `json:"notification"`
}

type CommentAddPayload struct {
	DocumentId string          `json:"documentId"`
	Comment    json.RawMessage `json:"comment"`
}

type WorkspacePayload struct {
	WorkspaceId string `json:"workspaceId"`
}

type TypingPayload struct {
	DocumentId string `json:"documentId"`
}

// ServerMessage is the envelope for every outbound event.
type ServerMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type AuthenticatedPayload struct {
	UserId   int    `json:"userId"`
	Username string `json:"username"`
}

type RoomUsersPayload struct {
	DocumentId string           `json:"documentId"`
	Users      []types.UserInfo `json:"users"`
}

type UserJoinedPayload struct {
	DocumentId string         `json:"documentId"`
	User       types.UserInfo `json:"user"`
}

type UserLeftPayload struct {
	DocumentId   string `json:"documentId"`
	UserId       int    `json:"userId"`
	ConnectionId string `json:"connectionId"`
}

type CursorUpdatedPayload struct {
	DocumentId string            `json:"documentId"`
	UserId     int               `json:"userId"`
	Cursor     types.CursorRange `json:"cursor"`
}

type SelectionUpdatedPayload struct {
	DocumentId string          `json:"documentId"`
	UserId     int             `json:"userId"`
	Selection  json.RawMessage `json:"selection"`
}

type UserTypingPayload struct {
	DocumentId string `json:"documentId"`
	UserId     int    `json:"userId"`
	Typing     bool   `json:"typing"`
}

type TaskUpdatedPayload struct {
	WorkspaceId string          `json:"workspaceId"`
	Task        json.RawMessage `json:"task"`
	Action      string          `json:"action"`
	UserId      int             `json:"userId"`
}

type NotificationPayload struct {
	Id           string          `json:"id"`
	FromUserId   int             `json:"from_user_id"`
	Notification json.RawMessage `json:"notification"`
}

type CommentAddedPayload struct {
	DocumentId string          `json:"documentId"`
	UserId     int             `json:"userId"`
	Comment    json.RawMessage `json:"comment"`
}

type WorkspacePresencePayload struct {
	WorkspaceId string                  `json:"workspaceId"`
	Members     []types.WorkspaceMember `json:"members"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type WorkspacePresenceErrorPayload struct {
	WorkspaceId string `json:"workspaceId"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

func NewEvent(eventType string, data any) *ServerMessage {
	return &ServerMessage{
		Type:      eventType,
		Timestamp: Now(),
		Data:      data,
	}
}

func ErrorEvent(code int, message string) *ServerMessage {
	return NewEvent(EventError, ErrorPayload{Code: code, Message: message})
}

func AuthErrorEvent(message string) *ServerMessage {
	return NewEvent(EventAuthError, ErrorPayload{Code: http.StatusUnauthorized, Message: message})
}

func PresenceErrorEvent(workspaceId string, code int, message string) *ServerMessage {
	return NewEvent(EventWorkspacePresenceError, WorkspacePresenceErrorPayload{
		WorkspaceId: workspaceId,
		Code:        code,
		Message:     message,
	})
}

func ErrInternalError() *ServerMessage {
	return ErrorEvent(http.StatusInternalServerError, "internal server error")
}

func ErrInvalidMessage() *ServerMessage {
	return ErrorEvent(http.StatusBadRequest, "invalid message format")
}

func newNotificationId() string {
	return uuid.NewString()
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
