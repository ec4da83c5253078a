package realtime

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessage_envelope(t *testing.T) {
	raw := []byte(`{"type":"cursor-update","data":{"documentId":"doc1","cursor":{"from":3,"to":7}}}`)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(raw, &msg), "expected envelope to decode")
	assert.Equal(t, IntentCursorUpdate, msg.Type, "expected intent type")

	var p CursorUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Data, &p), "expected payload to decode")
	assert.Equal(t, "doc1", p.DocumentId, "expected document id")
	assert.Equal(t, 3, p.Cursor.From, "expected cursor start")
	assert.Equal(t, 7, p.Cursor.To, "expected cursor end")
}

func TestServerMessage_shape(t *testing.T) {
	msg := NewEvent(EventUserTyping, UserTypingPayload{DocumentId: "doc1", UserId: 4, Typing: true})

	raw, err := json.Marshal(msg)
	require.NoError(t, err, "expected event to marshal")
	assert.JSONEq(t,
		`{"type":"user-typing","timestamp":"`+msg.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00")+`",`+
			`"data":{"documentId":"doc1","userId":4,"typing":true}}`,
		string(raw), "expected wire shape")
}

func TestErrorEvents(t *testing.T) {
	tcases := []struct {
		name     string
		msg      *ServerMessage
		evtType  string
		wantCode int
	}{
		{name: "internal", msg: ErrInternalError(), evtType: EventError, wantCode: http.StatusInternalServerError},
		{name: "invalid message", msg: ErrInvalidMessage(), evtType: EventError, wantCode: http.StatusBadRequest},
		{name: "auth", msg: AuthErrorEvent("invalid session"), evtType: EventAuthError, wantCode: http.StatusUnauthorized},
		{name: "forbidden", msg: ErrorEvent(http.StatusForbidden, "access denied"), evtType: EventError, wantCode: http.StatusForbidden},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.evtType, tc.msg.Type, "expected event type")
			p, ok := tc.msg.Data.(ErrorPayload)
			require.True(t, ok, "expected an error payload")
			assert.Equal(t, tc.wantCode, p.Code, "expected status code")
		})
	}
}

func TestPresenceErrorEvent(t *testing.T) {
	msg := PresenceErrorEvent("ws1", http.StatusForbidden, "access denied")

	assert.Equal(t, EventWorkspacePresenceError, msg.Type, "expected presence error type")
	p := msg.Data.(WorkspacePresenceErrorPayload)
	assert.Equal(t, "ws1", p.WorkspaceId, "expected workspace id")
	assert.Equal(t, http.StatusForbidden, p.Code, "expected status code")
}
