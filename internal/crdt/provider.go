// Package crdt wraps the external document-synchronization engine behind a
// narrow collaborator surface. The realtime layer only creates, destroys,
// and hands connections to document sync state; it never interprets the
// frames the engine exchanges.
package crdt

import (
	"github.com/gorilla/websocket"
)

// Handle is an exclusively owned reference to one document's live sync
// state. The room registry destroys it exactly once, on eviction.
type Handle interface {
	Destroy() error
}

type Provider interface {
	// Open creates or reuses the live sync state for a document and returns
	// the owning handle.
	Open(documentId string) (Handle, error)
	// Attach hands a raw sync connection to the engine. The engine owns the
	// connection from this point on.
	Attach(conn *websocket.Conn, documentId string) error
}
