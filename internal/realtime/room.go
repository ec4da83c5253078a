package realtime

import (
	"net/http"
	"time"

	"github.com/teamspace/teamspace/internal/crdt"
	"github.com/teamspace/teamspace/internal/types"
)

// Room is one document's live collaborative session. It exists in the
// registry iff at least one connection has joined it since its last
// eviction, and its CRDT handle is destroyed exactly once, before the entry
// is removed.
type Room struct {
	documentId   string
	handle       crdt.Handle
	users        map[string]*types.UserInfo // keyed by connection id
	lastActivity time.Time
}

func (r *Room) userList() []types.UserInfo {
	users := make([]types.UserInfo, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users
}

// joinRoom creates the room (and its CRDT handle) on first join, records the
// user, and emits the roster snapshot to the joiner before any peer hears
// user-joined. The snapshot always includes the joiner itself.
func (co *Coordinator) joinRoom(c *Client, documentId string, user types.UserInfo) {
	room, ok := co.rooms[documentId]
	if !ok {
		handle, err := co.sync.Open(documentId)
		if err != nil {
			co.log.Printf("open document %q: %v", documentId, err)
			c.queueMessage(ErrInternalError())
			return
		}

		room = &Room{
			documentId: documentId,
			handle:     handle,
			users:      make(map[string]*types.UserInfo),
		}
		co.rooms[documentId] = room
		co.stats.Incr(statActiveRooms)
		co.log.Printf("created room %q", documentId)
	}

	room.users[c.id] = &user
	room.lastActivity = co.now()
	c.documents[documentId] = struct{}{}

	c.queueMessage(NewEvent(EventRoomUsers, RoomUsersPayload{
		DocumentId: documentId,
		Users:      room.userList(),
	}))
	co.broadcastRoom(room, NewEvent(EventUserJoined, UserJoinedPayload{
		DocumentId: documentId,
		User:       user,
	}), c)
}

// leaveRoom is idempotent: leaving a room the connection is not in is a
// no-op. The last leave evicts the room eagerly rather than waiting for the
// reaper.
func (co *Coordinator) leaveRoom(c *Client, documentId string) {
	room, ok := co.rooms[documentId]
	if !ok {
		delete(c.documents, documentId)
		return
	}

	user, ok := room.users[c.id]
	if !ok {
		delete(c.documents, documentId)
		return
	}

	delete(room.users, c.id)
	delete(c.documents, documentId)
	room.lastActivity = co.now()

	co.broadcastRoom(room, NewEvent(EventUserLeft, UserLeftPayload{
		DocumentId:   documentId,
		UserId:       user.UserId,
		ConnectionId: c.id,
	}), c)

	if len(room.users) == 0 {
		co.evictRoom(room)
	}
}

// evictRoom frees the CRDT handle before the registry entry goes away, so a
// handle can never dangle.
func (co *Coordinator) evictRoom(room *Room) {
	if err := room.handle.Destroy(); err != nil {
		co.log.Printf("destroy document %q: %v", room.documentId, err)
	}
	delete(co.rooms, room.documentId)
	co.stats.Decr(statActiveRooms)
	co.log.Printf("evicted room %q", room.documentId)
}

// reapIdleRooms is the safety net for rooms that emptied without an explicit
// leave, e.g. a sync channel that dropped without surfacing a leave-document
// intent. Rooms with users are never touched.
func (co *Coordinator) reapIdleRooms(now time.Time) {
	for _, room := range co.rooms {
		if len(room.users) > 0 {
			continue
		}
		if now.Sub(room.lastActivity) < co.roomIdleTimeout {
			continue
		}

		co.log.Printf("reaping idle room %q", room.documentId)
		co.evictRoom(room)
	}
}

func (co *Coordinator) handleCursorUpdate(c *Client, req cursorUpdateReq) {
	room, user, ok := co.roomMembership(c, req.documentId)
	if !ok {
		return
	}

	user.Cursor = &req.cursor
	room.lastActivity = co.now()

	co.broadcastRoom(room, NewEvent(EventCursorUpdated, CursorUpdatedPayload{
		DocumentId: req.documentId,
		UserId:     user.UserId,
		Cursor:     req.cursor,
	}), c)
}

func (co *Coordinator) handleTyping(c *Client, req typingReq) {
	room, user, ok := co.roomMembership(c, req.documentId)
	if !ok {
		return
	}

	room.lastActivity = co.now()
	co.broadcastRoom(room, NewEvent(EventUserTyping, UserTypingPayload{
		DocumentId: req.documentId,
		UserId:     user.UserId,
		Typing:     req.typing,
	}), c)
}

// handleSelectionUpdate routes to the room audience that exists at delivery
// time; a selection for a room nobody has joined is dropped.
func (co *Coordinator) handleSelectionUpdate(c *Client, req selectionUpdateReq) {
	room, ok := co.rooms[req.documentId]
	if !ok {
		return
	}

	room.lastActivity = co.now()
	co.broadcastRoom(room, NewEvent(EventSelectionUpdated, SelectionUpdatedPayload{
		DocumentId: req.documentId,
		UserId:     c.context().UserId,
		Selection:  req.selection,
	}), c)
}

func (co *Coordinator) handleCommentAdd(c *Client, req commentAddReq) {
	room, ok := co.rooms[req.documentId]
	if !ok {
		return
	}

	room.lastActivity = co.now()
	co.broadcastRoom(room, NewEvent(EventCommentAdded, CommentAddedPayload{
		DocumentId: req.documentId,
		UserId:     c.context().UserId,
		Comment:    req.comment,
	}), c)
}

// roomMembership enforces the joined-document precondition shared by cursor
// and typing intents.
func (co *Coordinator) roomMembership(c *Client, documentId string) (*Room, *types.UserInfo, bool) {
	room, ok := co.rooms[documentId]
	if !ok {
		c.queueMessage(ErrorEvent(http.StatusForbidden, "document not joined"))
		return nil, nil, false
	}

	user, ok := room.users[c.id]
	if !ok {
		c.queueMessage(ErrorEvent(http.StatusForbidden, "document not joined"))
		return nil, nil, false
	}

	return room, user, true
}

// broadcastRoom delivers an event to every room member except skip.
// Delivery is best-effort: members whose connection is already gone are
// silently dropped.
func (co *Coordinator) broadcastRoom(room *Room, msg *ServerMessage, skip *Client) {
	for connId := range room.users {
		if skip != nil && connId == skip.id {
			continue
		}

		if cl, ok := co.clients[connId]; ok {
			cl.queueMessage(msg)
		}
	}
	co.stats.Incr(statEventsRouted)
}
