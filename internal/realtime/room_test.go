package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamspace/teamspace/internal/crdt"
	"github.com/teamspace/teamspace/internal/database"
	"github.com/teamspace/teamspace/internal/types"
)

func Test_joinRoom(t *testing.T) {
	t.Run("first join creates room and opens handle", func(t *testing.T) {
		handle := &crdt.MockHandle{}
		provider := &crdt.MockProvider{}
		defer provider.AssertExpectations(t)
		provider.On("Open", "doc1").Return(handle, nil).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})

		require.Contains(t, co.rooms, "doc1", "expected room to exist after join")
		room := co.rooms["doc1"]
		assert.Len(t, room.users, 1, "expected one user in the room")
		assert.Contains(t, a.documents, "doc1", "expected client to record joined document")

		msg := nextMessage(t, a)
		assert.Equal(t, EventRoomUsers, msg.Type, "expected room-users snapshot")
		snapshot := msg.Data.(RoomUsersPayload)
		assert.Equal(t, "doc1", snapshot.DocumentId, "expected document id in snapshot")
		require.Len(t, snapshot.Users, 1, "expected snapshot to contain the joiner")
		assert.Equal(t, 1, snapshot.Users[0].UserId, "expected joiner in its own snapshot")
	})

	t.Run("second join reuses room, snapshot precedes peer broadcast", func(t *testing.T) {
		handle := &crdt.MockHandle{}
		provider := &crdt.MockProvider{}
		defer provider.AssertExpectations(t)
		provider.On("Open", "doc1").Return(handle, nil).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")
		b := newTestClient(t, co, "connB", 2, "bob")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
		nextMessage(t, a) // alice's own snapshot

		co.joinRoom(b, "doc1", types.UserInfo{UserId: 2, Name: "bob"})

		// bob's first message is the roster snapshot including himself
		msg := nextMessage(t, b)
		require.Equal(t, EventRoomUsers, msg.Type, "expected bob's first event to be room-users")
		snapshot := msg.Data.(RoomUsersPayload)
		require.Len(t, snapshot.Users, 2, "expected both users in bob's snapshot")
		userIds := []int{snapshot.Users[0].UserId, snapshot.Users[1].UserId}
		assert.ElementsMatch(t, []int{1, 2}, userIds, "expected snapshot to contain alice and bob")

		// alice hears user-joined for bob, and only that
		msg = nextMessage(t, a)
		require.Equal(t, EventUserJoined, msg.Type, "expected user-joined for alice")
		assert.Equal(t, 2, msg.Data.(UserJoinedPayload).User.UserId, "expected bob in user-joined")
		assertNoMessage(t, a)
		assertNoMessage(t, b)
	})

	t.Run("handle open failure never creates a room", func(t *testing.T) {
		provider := &crdt.MockProvider{}
		defer provider.AssertExpectations(t)
		provider.On("Open", "doc1").Return(nil, assert.AnError).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})

		assert.NotContains(t, co.rooms, "doc1", "expected no room after open failure")
		msg := nextMessage(t, a)
		assert.Equal(t, EventError, msg.Type, "expected error event")
	})
}

func Test_leaveRoom(t *testing.T) {
	t.Run("last leave evicts room and destroys handle once", func(t *testing.T) {
		handle := &crdt.MockHandle{}
		defer handle.AssertExpectations(t)
		handle.On("Destroy").Return(nil).Once()

		provider := &crdt.MockProvider{}
		provider.On("Open", "doc1").Return(handle, nil).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")
		b := newTestClient(t, co, "connB", 2, "bob")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
		co.joinRoom(b, "doc1", types.UserInfo{UserId: 2, Name: "bob"})
		drain(a)
		drain(b)

		co.leaveRoom(a, "doc1")
		assert.Contains(t, co.rooms, "doc1", "expected room to survive while bob remains")
		assert.NotContains(t, a.documents, "doc1", "expected alice's bookkeeping cleared")

		msg := nextMessage(t, b)
		require.Equal(t, EventUserLeft, msg.Type, "expected user-left for bob")
		assert.Equal(t, 1, msg.Data.(UserLeftPayload).UserId, "expected alice in user-left")

		co.leaveRoom(b, "doc1")
		assert.NotContains(t, co.rooms, "doc1", "expected room evicted when empty")

		// repeated leave is a no-op, not an error
		co.leaveRoom(b, "doc1")
		assertNoMessage(t, b)
	})

	t.Run("join then immediate leave leaves no residual room", func(t *testing.T) {
		handle := &crdt.MockHandle{}
		defer handle.AssertExpectations(t)
		handle.On("Destroy").Return(nil).Once()

		provider := &crdt.MockProvider{}
		provider.On("Open", "doc1").Return(handle, nil).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
		co.leaveRoom(a, "doc1")

		assert.Empty(t, co.rooms, "expected no residual room")
	})
}

func Test_reapIdleRooms(t *testing.T) {
	handle := &crdt.MockHandle{}
	defer handle.AssertExpectations(t)
	handle.On("Destroy").Return(nil).Once()

	co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, &crdt.MockProvider{}, stubSessionValidator{})
	now := time.Now()

	liveHandle := &crdt.MockHandle{}
	co.rooms["stale"] = &Room{
		documentId:   "stale",
		handle:       handle,
		users:        make(map[string]*types.UserInfo),
		lastActivity: now.Add(-10 * time.Minute),
	}
	co.rooms["recent"] = &Room{
		documentId:   "recent",
		handle:       liveHandle,
		users:        make(map[string]*types.UserInfo),
		lastActivity: now.Add(-time.Minute),
	}
	co.rooms["occupied"] = &Room{
		documentId: "occupied",
		handle:     liveHandle,
		users: map[string]*types.UserInfo{
			"connA": {UserId: 1, Name: "alice"},
		},
		lastActivity: now.Add(-time.Hour),
	}

	co.reapIdleRooms(now)

	assert.NotContains(t, co.rooms, "stale", "expected stale empty room to be reaped")
	assert.Contains(t, co.rooms, "recent", "expected recently active room to survive")
	assert.Contains(t, co.rooms, "occupied", "expected occupied room to survive regardless of age")
	liveHandle.AssertNotCalled(t, "Destroy")
}

func Test_handleCursorUpdate(t *testing.T) {
	t.Run("broadcasts to peers, never the sender", func(t *testing.T) {
		handle := &crdt.MockHandle{}
		provider := &crdt.MockProvider{}
		provider.On("Open", "doc1").Return(handle, nil).Once()

		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")
		b := newTestClient(t, co, "connB", 2, "bob")

		co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
		co.joinRoom(b, "doc1", types.UserInfo{UserId: 2, Name: "bob"})
		drain(a)
		drain(b)

		co.handleCursorUpdate(b, cursorUpdateReq{documentId: "doc1", cursor: types.CursorRange{From: 0, To: 5}})

		msg := nextMessage(t, a)
		require.Equal(t, EventCursorUpdated, msg.Type, "expected cursor-updated for alice")
		payload := msg.Data.(CursorUpdatedPayload)
		assert.Equal(t, 2, payload.UserId, "expected bob's user id")
		assert.Equal(t, types.CursorRange{From: 0, To: 5}, payload.Cursor, "expected cursor range")
		assertNoMessage(t, b)

		// cursor is recorded on bob's roster entry
		require.NotNil(t, co.rooms["doc1"].users["connB"].Cursor, "expected cursor stored")
		assert.Equal(t, 5, co.rooms["doc1"].users["connB"].Cursor.To, "expected stored cursor to match")
	})

	t.Run("rejected without prior join", func(t *testing.T) {
		co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, &crdt.MockProvider{}, stubSessionValidator{})
		a := newTestClient(t, co, "connA", 1, "alice")

		co.handleCursorUpdate(a, cursorUpdateReq{documentId: "doc1", cursor: types.CursorRange{From: 1, To: 2}})

		msg := nextMessage(t, a)
		assert.Equal(t, EventError, msg.Type, "expected error event without prior join")
	})
}

func Test_handleTyping(t *testing.T) {
	handle := &crdt.MockHandle{}
	provider := &crdt.MockProvider{}
	provider.On("Open", "doc1").Return(handle, nil).Once()

	co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
	a := newTestClient(t, co, "connA", 1, "alice")
	b := newTestClient(t, co, "connB", 2, "bob")

	co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
	co.joinRoom(b, "doc1", types.UserInfo{UserId: 2, Name: "bob"})
	drain(a)
	drain(b)

	co.handleTyping(a, typingReq{documentId: "doc1", typing: true})

	msg := nextMessage(t, b)
	require.Equal(t, EventUserTyping, msg.Type, "expected user-typing for bob")
	payload := msg.Data.(UserTypingPayload)
	assert.Equal(t, 1, payload.UserId, "expected alice's user id")
	assert.True(t, payload.Typing, "expected typing true")
	assertNoMessage(t, a)

	co.handleTyping(a, typingReq{documentId: "doc1", typing: false})
	msg = nextMessage(t, b)
	assert.False(t, msg.Data.(UserTypingPayload).Typing, "expected typing false")
}

func Test_handleCommentAdd(t *testing.T) {
	handle := &crdt.MockHandle{}
	provider := &crdt.MockProvider{}
	provider.On("Open", "doc1").Return(handle, nil).Once()

	co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
	a := newTestClient(t, co, "connA", 1, "alice")
	b := newTestClient(t, co, "connB", 2, "bob")

	co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
	co.joinRoom(b, "doc1", types.UserInfo{UserId: 2, Name: "bob"})
	drain(a)
	drain(b)

	comment := json.RawMessage(`{"text":"looks good"}`)
	co.handleCommentAdd(a, commentAddReq{documentId: "doc1", comment: comment})

	msg := nextMessage(t, b)
	require.Equal(t, EventCommentAdded, msg.Type, "expected comment-added for bob")
	payload := msg.Data.(CommentAddedPayload)
	assert.Equal(t, 1, payload.UserId, "expected alice's user id")
	assert.JSONEq(t, string(comment), string(payload.Comment), "expected comment payload to match")
	assertNoMessage(t, a)

	// comment for an unjoined document is dropped silently
	co.handleCommentAdd(a, commentAddReq{documentId: "nowhere", comment: comment})
	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

func Test_removeConnection(t *testing.T) {
	handle1 := &crdt.MockHandle{}
	defer handle1.AssertExpectations(t)
	handle1.On("Destroy").Return(nil).Once()
	handle2 := &crdt.MockHandle{}

	provider := &crdt.MockProvider{}
	provider.On("Open", "doc1").Return(handle1, nil).Once()
	provider.On("Open", "doc2").Return(handle2, nil).Once()

	co := newTestCoordinator(t, &database.MockTeamspaceRepository{}, provider, stubSessionValidator{})
	a := newTestClient(t, co, "connA", 1, "alice")
	b := newTestClient(t, co, "connB", 2, "bob")

	co.joinRoom(a, "doc1", types.UserInfo{UserId: 1, Name: "alice"})
	co.joinRoom(a, "doc2", types.UserInfo{UserId: 1, Name: "alice"})
	co.joinRoom(b, "doc2", types.UserInfo{UserId: 2, Name: "bob"})
	co.joinWorkspacePresence(a, "ws1", types.WorkspaceMember{UserId: 1, Name: "alice", Role: "editor"})
	drain(a)
	drain(b)

	co.removeConnection(a)

	assert.NotContains(t, co.rooms, "doc1", "expected doc1 evicted, alice was its only member")
	require.Contains(t, co.rooms, "doc2", "expected doc2 to survive, bob remains")
	assert.NotContains(t, co.rooms["doc2"].users, "connA", "expected alice gone from doc2")
	assert.NotContains(t, co.presence, "ws1", "expected presence roster gone, alice was sole member")
	assert.NotContains(t, co.clients, "connA", "expected connection removed from registry")

	select {
	case <-a.stop:
	default:
		t.Error("expected stop channel closed after disconnect")
	}

	// bob hears alice leaving doc2
	msg := nextMessage(t, b)
	assert.Equal(t, EventUserLeft, msg.Type, "expected user-left for bob")
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
