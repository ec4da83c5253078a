package realtime

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/teamspace/teamspace/internal/config"
	"github.com/teamspace/teamspace/internal/crdt"
	"github.com/teamspace/teamspace/internal/database"
	"github.com/teamspace/teamspace/internal/stats"
	"github.com/teamspace/teamspace/internal/types"
)

const (
	statActiveConnections = "ActiveConnections"
	statActiveRooms       = "ActiveRooms"
	statPresenceRooms     = "PresenceRooms"
	statEventsRouted      = "EventsRouted"
)

// SessionValidator is the session gate: it turns a credential into an
// account or fails.
type SessionValidator interface {
	ValidateSession(token string) (types.User, error)
}

// Directory resolves documents and workspace memberships. Misses are
// reported as sql.ErrNoRows, anything else is an infrastructure failure.
type Directory interface {
	GetDocumentByExternalId(externalId string) (database.Document, error)
	GetWorkspaceMembership(workspaceId string, accountId int) (database.Membership, error)
}

// clientIntent is one pre-authorized operation queued for the loop. kind is
// the intent name; payload is the matching request struct.
type clientIntent struct {
	client  *Client
	kind    string
	payload any
}

type joinDocumentReq struct {
	documentId string
	user       types.UserInfo
}

type leaveDocumentReq struct {
	documentId string
}

type cursorUpdateReq struct {
	documentId string
	cursor     types.CursorRange
}

type selectionUpdateReq struct {
	documentId string
	selection  []byte
}

type taskUpdateReq struct {
	workspaceId string
	task        []byte
	action      string
}

type notificationReq struct {
	userId       int
	notification []byte
}

type commentAddReq struct {
	documentId string
	comment    []byte
}

type joinPresenceReq struct {
	workspaceId string
	member      types.WorkspaceMember
}

type leavePresenceReq struct {
	workspaceId string
}

type typingReq struct {
	documentId string
	typing     bool
}

// Coordinator owns the room and presence registries and fans events out to
// connections. Every registry mutation and broadcast runs to completion on
// the single Run loop, so no lock guards the maps; the reaper tick is a case
// of the same select and can never overlap a join or leave.
type Coordinator struct {
	log      *log.Logger
	db       Directory
	sessions SessionValidator
	sync     crdt.Provider
	stats    stats.StatsProvider

	clients  map[string]*Client
	rooms    map[string]*Room
	presence map[string]*PresenceRoom

	intents        chan *clientIntent
	registerChan   chan *Client
	deregisterChan chan *Client

	reapInterval    time.Duration
	roomIdleTimeout time.Duration

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

func NewCoordinator(logger *log.Logger, db Directory, sessions SessionValidator,
	sync crdt.Provider, su stats.StatsProvider, cfg *config.Config) *Coordinator {

	co := &Coordinator{
		log:             logger,
		db:              db,
		sessions:        sessions,
		sync:            sync,
		stats:           su,
		clients:         make(map[string]*Client),
		rooms:           make(map[string]*Room),
		presence:        make(map[string]*PresenceRoom),
		intents:         make(chan *clientIntent, 512),
		registerChan:    make(chan *Client),
		deregisterChan:  make(chan *Client),
		reapInterval:    cfg.ReapInterval,
		roomIdleTimeout: cfg.RoomIdleTimeout,
		now:             Now,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	su.RegisterMetric(statActiveConnections)
	su.RegisterMetric(statActiveRooms)
	su.RegisterMetric(statPresenceRooms)
	su.RegisterMetric(statEventsRouted)

	return co
}

func (co *Coordinator) Run() {
	ticker := time.NewTicker(co.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-co.registerChan:
			co.addClient(c)
		case c := <-co.deregisterChan:
			co.removeConnection(c)
		case in := <-co.intents:
			co.handleIntent(in)
		case <-ticker.C:
			co.reapIdleRooms(co.now())
		case <-co.stop:
			co.shutdownLoop()
			return
		}
	}
}

// Register hands a freshly upgraded connection to the loop.
func (co *Coordinator) Register(c *Client) {
	select {
	case co.registerChan <- c:
	case <-co.done:
	}
}

// Deregister runs disconnect cleanup for a connection: every room and
// presence roster it touched is left, eagerly evicting what becomes empty.
func (co *Coordinator) Deregister(c *Client) {
	select {
	case co.deregisterChan <- c:
	case <-co.done:
	}
}

func (co *Coordinator) submit(in *clientIntent) bool {
	select {
	case co.intents <- in:
		return true
	case <-co.done:
		return false
	default:
		co.log.Printf("intent queue full, rejecting %s from %s", in.kind, in.client.id)
		return false
	}
}

// Shutdown stops the loop, which frees every CRDT handle and stops every
// connection's write pump.
func (co *Coordinator) Shutdown(ctx context.Context) error {
	close(co.stop)

	select {
	case <-co.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (co *Coordinator) handleIntent(in *clientIntent) {
	c := in.client

	switch in.kind {
	case IntentJoinDocument:
		req := in.payload.(joinDocumentReq)
		co.joinRoom(c, req.documentId, req.user)
	case IntentLeaveDocument:
		req := in.payload.(leaveDocumentReq)
		co.leaveRoom(c, req.documentId)
	case IntentCursorUpdate:
		req := in.payload.(cursorUpdateReq)
		co.handleCursorUpdate(c, req)
	case IntentSelectionUpdate:
		req := in.payload.(selectionUpdateReq)
		co.handleSelectionUpdate(c, req)
	case IntentTaskUpdate:
		req := in.payload.(taskUpdateReq)
		co.handleTaskUpdate(c, req)
	case IntentSendNotification:
		req := in.payload.(notificationReq)
		co.handleSendNotification(c, req)
	case IntentCommentAdd:
		req := in.payload.(commentAddReq)
		co.handleCommentAdd(c, req)
	case IntentJoinWorkspacePresence:
		req := in.payload.(joinPresenceReq)
		co.joinWorkspacePresence(c, req.workspaceId, req.member)
	case IntentLeaveWorkspacePresence:
		req := in.payload.(leavePresenceReq)
		co.leaveWorkspacePresence(c, req.workspaceId)
	case IntentTypingStart, IntentTypingStop:
		req := in.payload.(typingReq)
		co.handleTyping(c, req)
	default:
		c.queueMessage(ErrorEvent(http.StatusBadRequest, "unknown intent"))
	}
}

func (co *Coordinator) addClient(c *Client) {
	co.clients[c.id] = c
	co.stats.Incr(statActiveConnections)
}

func (co *Coordinator) removeConnection(c *Client) {
	for documentId := range c.documents {
		co.leaveRoom(c, documentId)
	}
	for workspaceId := range c.workspaces {
		co.leaveWorkspacePresence(c, workspaceId)
	}

	if _, ok := co.clients[c.id]; ok {
		delete(co.clients, c.id)
		co.stats.Decr(statActiveConnections)
	}
	c.stopClient()
}

func (co *Coordinator) shutdownLoop() {
	co.log.Println("shutting down coordinator")
	for _, room := range co.rooms {
		co.evictRoom(room)
	}
	for _, c := range co.clients {
		c.stopClient()
	}

	close(co.done)
}

// authorizeDocument re-runs the membership check for a document's owning
// workspace. Called from connection read goroutines, never from the loop,
// so a slow database round-trip only stalls its own connection.
func (co *Coordinator) authorizeDocument(documentId string, userId int) (string, *ServerMessage) {
	doc, err := co.db.GetDocumentByExternalId(documentId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrorEvent(http.StatusNotFound, "document not found")
	}
	if err != nil {
		co.log.Printf("get document %q: %v", documentId, err)
		return "", ErrInternalError()
	}

	m, err := co.db.GetWorkspaceMembership(doc.WorkspaceId, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrorEvent(http.StatusForbidden, "not a workspace member")
	}
	if err != nil {
		co.log.Printf("get membership %q/%d: %v", doc.WorkspaceId, userId, err)
		return "", ErrInternalError()
	}

	return m.Role, nil
}

func (co *Coordinator) authorizeWorkspace(workspaceId string, userId int) (string, *ServerMessage) {
	m, err := co.db.GetWorkspaceMembership(workspaceId, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", PresenceErrorEvent(workspaceId, http.StatusForbidden, "not a workspace member")
	}
	if err != nil {
		co.log.Printf("get membership %q/%d: %v", workspaceId, userId, err)
		return "", PresenceErrorEvent(workspaceId, http.StatusInternalServerError, "internal server error")
	}

	return m.Role, nil
}

func (co *Coordinator) handleSendNotification(c *Client, req notificationReq) {
	msg := NewEvent(EventNotification, NotificationPayload{
		Id:           newNotificationId(),
		FromUserId:   c.context().UserId,
		Notification: req.notification,
	})

	// private channel: every connection the target user holds gets a copy
	for _, cl := range co.clients {
		if cc := cl.context(); cc != nil && cc.UserId == req.userId {
			cl.queueMessage(msg)
		}
	}
	co.stats.Incr(statEventsRouted)
}
