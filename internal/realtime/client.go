package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ConnectionContext is the identity bound to a connection by a successful
// authenticate intent. It is written once and never mutated afterwards.
type ConnectionContext struct {
	UserId    int
	Username  string
	AvatarUrl string
}

// Client is one general event channel connection. The read pump parses and
// pre-authorizes intents (any database round-trips happen here, on the
// connection's own goroutine) before handing them to the coordinator loop,
// which owns all room and presence state.
type Client struct {
	id            string
	conn          *websocket.Conn
	coord         *Coordinator
	log           *log.Logger
	fallbackToken string
	send          chan *ServerMessage
	stop          chan struct{}
	stopOnce      sync.Once

	ctxLock sync.RWMutex
	ctx     *ConnectionContext

	// joined documents/workspaces, owned by the coordinator loop
	documents  map[string]struct{}
	workspaces map[string]struct{}
}

// NewClient wraps an upgraded websocket connection. fallbackToken is the
// session cookie captured at upgrade time; the authenticate intent falls
// back to it when no explicit sessionId is supplied.
func NewClient(conn *websocket.Conn, coord *Coordinator, logger *log.Logger, fallbackToken string) *Client {
	return &Client{
		id:            shortid.MustGenerate(),
		conn:          conn,
		coord:         coord,
		log:           logger,
		fallbackToken: fallbackToken,
		send:          make(chan *ServerMessage, 256),
		stop:          make(chan struct{}),
		documents:     make(map[string]struct{}),
		workspaces:    make(map[string]struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) context() *ConnectionContext {
	c.ctxLock.RLock()
	defer c.ctxLock.RUnlock()
	return c.ctx
}

func (c *Client) bindContext(ctx *ConnectionContext) {
	c.ctxLock.Lock()
	defer c.ctxLock.Unlock()
	if c.ctx == nil {
		c.ctx = ctx
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.coord.Deregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		if !c.dispatch(&msg) {
			break
		}
	}
}

// dispatch pre-validates one intent and forwards it to the coordinator.
// Returning false tears the connection down (authentication failure or
// protocol violation, per the error taxonomy).
func (c *Client) dispatch(msg *ClientMessage) bool {
	switch msg.Type {
	case IntentAuthenticate:
		return c.handleAuthenticate(msg.Data)
	case IntentJoinDocument:
		return c.handleJoinDocument(msg.Data)
	case IntentLeaveDocument:
		var p LeaveDocumentPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentLeaveDocument, leaveDocumentReq{documentId: p.DocumentId})
		return true
	case IntentCursorUpdate:
		var p CursorUpdatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentCursorUpdate, cursorUpdateReq{documentId: p.DocumentId, cursor: p.Cursor})
		return true
	case IntentSelectionUpdate:
		if !c.requireAuth() {
			return true
		}
		var p SelectionUpdatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentSelectionUpdate, selectionUpdateReq{documentId: p.DocumentId, selection: p.Selection})
		return true
	case IntentTaskUpdate:
		if !c.requireAuth() {
			return true
		}
		var p TaskUpdatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.WorkspaceId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentTaskUpdate, taskUpdateReq{workspaceId: p.WorkspaceId, task: p.Task, action: p.Action})
		return true
	case IntentSendNotification:
		if !c.requireAuth() {
			return true
		}
		var p SendNotificationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.UserId == 0 {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentSendNotification, notificationReq{userId: p.UserId, notification: p.Notification})
		return true
	case IntentCommentAdd:
		if !c.requireAuth() {
			return true
		}
		var p CommentAddPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentCommentAdd, commentAddReq{documentId: p.DocumentId, comment: p.Comment})
		return true
	case IntentJoinWorkspacePresence:
		return c.handleJoinWorkspacePresence(msg.Data)
	case IntentLeaveWorkspacePresence:
		if !c.requireAuth() {
			return true
		}
		var p WorkspacePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.WorkspaceId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(IntentLeaveWorkspacePresence, leavePresenceReq{workspaceId: p.WorkspaceId})
		return true
	case IntentTypingStart, IntentTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
		c.submit(msg.Type, typingReq{documentId: p.DocumentId, typing: msg.Type == IntentTypingStart})
		return true
	default:
		c.queueMessage(ErrorEvent(http.StatusBadRequest, "unknown intent"))
		return true
	}
}

func (c *Client) handleAuthenticate(data json.RawMessage) bool {
	if cc := c.context(); cc != nil {
		// repeated authenticate is idempotent
		c.queueMessage(NewEvent(EventAuthenticated, AuthenticatedPayload{UserId: cc.UserId, Username: cc.Username}))
		return true
	}

	var p AuthenticatePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			c.queueMessage(ErrInvalidMessage())
			return true
		}
	}

	token := p.SessionId
	if token == "" {
		token = c.fallbackToken
	}
	if token == "" {
		c.queueMessage(AuthErrorEvent("missing credentials"))
		return false
	}

	user, err := c.coord.sessions.ValidateSession(token)
	if err != nil {
		c.log.Printf("session validation failed on %s: %v", c.id, err)
		c.queueMessage(AuthErrorEvent("invalid session"))
		return false
	}

	c.bindContext(&ConnectionContext{
		UserId:    user.Id,
		Username:  user.Username,
		AvatarUrl: user.AvatarUrl,
	})
	c.queueMessage(NewEvent(EventAuthenticated, AuthenticatedPayload{UserId: user.Id, Username: user.Username}))
	return true
}

func (c *Client) handleJoinDocument(data json.RawMessage) bool {
	cc := c.context()
	if cc == nil {
		c.queueMessage(AuthErrorEvent("authentication required"))
		return true
	}

	var p JoinDocumentPayload
	if err := json.Unmarshal(data, &p); err != nil || p.DocumentId == "" {
		c.queueMessage(ErrInvalidMessage())
		return true
	}

	// claiming another user's identity drops the connection without
	// further diagnostics
	if p.User.UserId != cc.UserId {
		c.log.Printf("join-document user id mismatch on %s", c.id)
		return false
	}
	if p.User.Name == "" {
		p.User.Name = cc.Username
	}

	// the general channel never inherits authorization from the raw sync
	// channel, so membership is checked again here
	if _, errEvt := c.coord.authorizeDocument(p.DocumentId, cc.UserId); errEvt != nil {
		c.queueMessage(errEvt)
		return true
	}

	c.submit(IntentJoinDocument, joinDocumentReq{documentId: p.DocumentId, user: p.User})
	return true
}

func (c *Client) handleJoinWorkspacePresence(data json.RawMessage) bool {
	cc := c.context()
	if cc == nil {
		c.queueMessage(AuthErrorEvent("authentication required"))
		return true
	}

	var p WorkspacePayload
	if err := json.Unmarshal(data, &p); err != nil || p.WorkspaceId == "" {
		c.queueMessage(ErrInvalidMessage())
		return true
	}

	role, errEvt := c.coord.authorizeWorkspace(p.WorkspaceId, cc.UserId)
	if errEvt != nil {
		c.queueMessage(errEvt)
		return true
	}

	c.submit(IntentJoinWorkspacePresence, joinPresenceReq{
		workspaceId: p.WorkspaceId,
		member:      workspaceMemberFor(cc, role),
	})
	return true
}

func (c *Client) requireAuth() bool {
	if c.context() == nil {
		c.queueMessage(AuthErrorEvent("authentication required"))
		return false
	}
	return true
}

func (c *Client) submit(kind string, payload any) {
	if !c.coord.submit(&clientIntent{client: c, kind: kind, payload: payload}) {
		c.queueMessage(ErrorEvent(http.StatusServiceUnavailable, "service unavailable"))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full on %s, dropping message", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
