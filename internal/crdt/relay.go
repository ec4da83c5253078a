package crdt

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxUpdateSize  = 1 << 20
	syncRecvWindow = 120 * time.Second
)

// Relay is the default Provider: it fans every sync frame out to the other
// connections attached to the same document without inspecting it. Merge
// semantics live entirely in the clients, which is what makes the frames
// safe to treat as opaque bytes.
type Relay struct {
	log  *log.Logger
	mu   sync.Mutex
	docs map[string]*relayDoc
}

type relayDoc struct {
	id    string
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewRelay(logger *log.Logger) *Relay {
	return &Relay{
		log:  logger,
		docs: make(map[string]*relayDoc),
	}
}

func (r *Relay) Open(documentId string) (Handle, error) {
	r.getOrCreateDoc(documentId)
	return &relayHandle{relay: r, documentId: documentId}, nil
}

func (r *Relay) Attach(conn *websocket.Conn, documentId string) error {
	doc := r.getOrCreateDoc(documentId)

	doc.mu.Lock()
	doc.conns[conn] = struct{}{}
	doc.mu.Unlock()

	go r.pump(doc, conn)
	return nil
}

func (r *Relay) getOrCreateDoc(documentId string) *relayDoc {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[documentId]
	if !ok {
		doc = &relayDoc{
			id:    documentId,
			conns: make(map[*websocket.Conn]struct{}),
		}
		r.docs[documentId] = doc
	}
	return doc
}

// pump reads frames off one attached connection and rebroadcasts them to the
// document's other connections until the connection dies.
func (r *Relay) pump(doc *relayDoc, conn *websocket.Conn) {
	defer func() {
		r.detach(doc, conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxUpdateSize)
	conn.SetReadDeadline(time.Now().Add(syncRecvWindow))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(syncRecvWindow))
		return nil
	})

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				r.log.Printf("sync read on %q: %v", doc.id, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(syncRecvWindow))

		doc.broadcast(r.log, msgType, frame, conn)
	}
}

func (d *relayDoc) broadcast(logger *log.Logger, msgType int, frame []byte, origin *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for conn := range d.conns {
		if conn == origin {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(msgType, frame); err != nil {
			// dead peer, drop it rather than stalling the document
			logger.Printf("sync write on %q: %v", d.id, err)
			delete(d.conns, conn)
			conn.Close()
		}
	}
}

func (r *Relay) detach(doc *relayDoc, conn *websocket.Conn) {
	doc.mu.Lock()
	delete(doc.conns, conn)
	empty := len(doc.conns) == 0
	doc.mu.Unlock()

	if empty {
		r.mu.Lock()
		if cur, ok := r.docs[doc.id]; ok && cur == doc {
			delete(r.docs, doc.id)
		}
		r.mu.Unlock()
	}
}

type relayHandle struct {
	relay      *Relay
	documentId string
	once       sync.Once
}

// Destroy drops the document's sync state and closes every connection still
// attached to it.
func (h *relayHandle) Destroy() error {
	h.once.Do(func() {
		h.relay.mu.Lock()
		doc, ok := h.relay.docs[h.documentId]
		if ok {
			delete(h.relay.docs, h.documentId)
		}
		h.relay.mu.Unlock()

		if !ok {
			return
		}

		doc.mu.Lock()
		for conn := range doc.conns {
			conn.Close()
		}
		doc.conns = make(map[*websocket.Conn]struct{})
		doc.mu.Unlock()
	})

	return nil
}
