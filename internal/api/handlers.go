package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamspace/teamspace/internal/auth"
	"github.com/teamspace/teamspace/internal/realtime"
	"github.com/teamspace/teamspace/internal/types"
)

const syncChannelPrefix = "document-"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// syncError is the rejection body on the raw sync channel.
type syncError struct {
	Error string `json:"error"`
}

func (s *TeamspaceApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *TeamspaceApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !auth.VerifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		AvatarUrl:    dbUser.AvatarUrl,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	}

	token, err := s.sessions.CreateSessionToken(u, auth.DefaultSessionExpiry)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, auth.NewSessionCookie(token, auth.DefaultSessionExpiry))

	s.writeJson(w, http.StatusOK, u)
}

func (s *TeamspaceApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		AvatarUrl:    user.AvatarUrl,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *TeamspaceApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, auth.NewSessionCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *TeamspaceApp) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
}

// serveWs accepts a general event channel connection. No credential is
// required to connect; the connection authenticates itself with an
// authenticate intent, falling back to the session cookie captured here.
func (s *TeamspaceApp) serveWs(w http.ResponseWriter, r *http.Request) {
	var fallbackToken string
	if cookie, err := r.Cookie(auth.TokenCookieKey); err == nil {
		fallbackToken = cookie.Value
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := realtime.NewClient(conn, s.coord, s.log, fallbackToken)
	s.coord.Register(client)
	go client.Write()
	go client.Read()
}

// serveSync accepts a raw per-document sync channel connection. Every
// rejection resolves before any sync data is exchanged: a status line plus a
// JSON reason, except for a malformed channel name, which tears the
// transport down without one.
func (s *TeamspaceApp) serveSync(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	documentId, ok := strings.CutPrefix(channel, syncChannelPrefix)
	if !ok || documentId == "" {
		s.teardown(w)
		return
	}

	cookie, err := r.Cookie(auth.TokenCookieKey)
	if err != nil {
		s.writeJson(w, http.StatusUnauthorized, syncError{Error: "authentication required"})
		return
	}

	user, err := s.sessions.ValidateSession(cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			s.writeJson(w, http.StatusUnauthorized, syncError{Error: "invalid session"})
		} else {
			s.log.Printf("validate session: %v", err)
			s.writeJson(w, http.StatusInternalServerError, syncError{Error: "internal server error"})
		}
		return
	}

	doc, err := s.db.GetDocumentByExternalId(documentId)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJson(w, http.StatusNotFound, syncError{Error: "document not found"})
		return
	} else if err != nil {
		s.log.Printf("get document %q: %v", documentId, err)
		s.writeJson(w, http.StatusInternalServerError, syncError{Error: "internal server error"})
		return
	}

	if _, err := s.db.GetWorkspaceMembership(doc.WorkspaceId, user.Id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Printf("sync access denied for user %d on document %q", user.Id, documentId)
			s.writeJson(w, http.StatusForbidden, syncError{Error: "access denied"})
		} else {
			s.log.Printf("get membership %q/%d: %v", doc.WorkspaceId, user.Id, err)
			s.writeJson(w, http.StatusInternalServerError, syncError{Error: "internal server error"})
		}
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading sync connection:", err)
		return
	}

	if err := s.sync.Attach(conn, documentId); err != nil {
		s.log.Printf("attach %q: %v", documentId, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	s.log.Printf("user %q (%d) syncing document %q", user.Username, user.Id, documentId)
}

// teardown closes the underlying transport without writing a status line.
func (s *TeamspaceApp) teardown(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
			return
		}
	}

	w.WriteHeader(http.StatusBadRequest)
}
