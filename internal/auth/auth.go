package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/teamspace/teamspace/internal/database"
	"github.com/teamspace/teamspace/internal/types"
)

const (
	TokenCookieKey = "token"

	DefaultSessionExpiry = time.Hour * 24

	userIdClaim = "user-id"
	expClaim    = "exp"
)

// ErrInvalidSession covers every way a presented credential can fail to
// resolve to an account: bad signature, expired token, malformed claims, or
// an account that no longer exists.
var ErrInvalidSession = errors.New("invalid session")

// SessionValidator resolves session tokens to accounts. It is the session
// gate the websocket gateway consults before admitting a connection.
type SessionValidator struct {
	signingKey []byte
	db         database.TeamspaceRepository
}

func NewSessionValidator(signingKey []byte, db database.TeamspaceRepository) *SessionValidator {
	return &SessionValidator{
		signingKey: signingKey,
		db:         db,
	}
}

// ValidateSession parses and verifies a session token, then loads the
// account it names. Returns ErrInvalidSession for any credential problem;
// other errors indicate the account lookup itself failed.
func (v *SessionValidator) ValidateSession(tokenString string) (types.User, error) {
	userId, err := v.extractUserIdFromToken(tokenString)
	if err != nil {
		return types.User{}, ErrInvalidSession
	}

	user, err := v.db.GetAccountById(userId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrInvalidSession
	} else if err != nil {
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	return types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		AvatarUrl:    user.AvatarUrl,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, nil
}

// CreateSessionToken mints a signed token for an authenticated account.
func (v *SessionValidator) CreateSessionToken(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(v.signingKey)
}

func (v *SessionValidator) extractUserIdFromToken(tokenString string) (int, error) {
	token, err := v.verifyToken(tokenString)
	if err != nil {
		return 0, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

func (v *SessionValidator) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func NewSessionCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
