package cloud

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/metrics"
)

// TokenLifetime is how long an issued access token stays usable before a
// fresh login is required.
const TokenLifetime = 5 * 24 * time.Hour

// Session is an issued access token and its issue time. It is replaced
// atomically as a whole; the token and timestamp are never updated separately.
type Session struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// Expired reports whether the session needs a refresh at time now.
func (s Session) Expired(now time.Time) bool {
	return s.Token == "" || now.Sub(s.IssuedAt) >= TokenLifetime
}

// SessionStore persists a session across process restarts. Implementations
// must replace the stored record atomically.
type SessionStore interface {
	Load() (Session, bool)
	Save(Session) error
}

// SessionManager owns the access token and its refresh. All remote calls get
// their token from here. Refreshes are deduplicated: while one login sequence
// is in flight every concurrent caller waits for its single result.
type SessionManager struct {
	client   *Client
	account  string
	password string
	store    SessionStore // optional
	onReauth func()       // optional, invoked when credentials are no longer valid
	now      func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	session  Session
	inflight *refreshCall
}

// refreshCall is a broadcast-once future for one login sequence.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionStore persists issued sessions so a restart within the token
// lifetime needs no login.
func WithSessionStore(store SessionStore) SessionOption {
	return func(m *SessionManager) { m.store = store }
}

// WithReauthCallback registers the host notification invoked when the
// credentials are rejected and a caller must re-authenticate.
func WithReauthCallback(cb func()) SessionOption {
	return func(m *SessionManager) { m.onReauth = cb }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a session manager for one account.
func NewSessionManager(client *Client, account, password string, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		client:   client,
		account:  account,
		password: password,
		now:      time.Now,
		log:      logging.Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store != nil {
		if s, ok := m.store.Load(); ok && !s.Expired(m.now()) {
			m.session = s
		}
	}
	return m
}

// Token returns a valid access token, performing the login sequence if the
// current session has expired. Concurrent callers during an expired state
// share a single login; its success or failure is broadcast to all of them.
// A cancelled caller stops waiting but does not abort the shared login.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.session.Expired(m.now()) {
		token := m.session.Token
		m.mu.Unlock()
		return token, nil
	}
	call := m.refreshLocked()
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-call.done:
	}
	return call.token, call.err
}

// Invalidate discards the current session and starts a refresh. Called when
// the remote rejects a token that looked unexpired (revoked server-side).
// The host's re-auth notification fires so it can surface a credentials
// prompt if the forced login also fails.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.session = Session{}
	m.refreshLocked()
	m.mu.Unlock()
}

func (m *SessionManager) notifyReauth() {
	if m.onReauth != nil {
		m.onReauth()
	}
}

// refreshLocked returns the in-flight login or starts one. Caller holds mu.
func (m *SessionManager) refreshLocked() *refreshCall {
	if m.inflight != nil {
		return m.inflight
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call

	go func() {
		// The login runs detached from any caller's context: waiters may
		// come and go, but the single result is what they all share.
		token, err := m.login(context.Background())

		m.mu.Lock()
		if err == nil {
			m.session = Session{Token: token, IssuedAt: m.now()}
			if m.store != nil {
				if saveErr := m.store.Save(m.session); saveErr != nil {
					m.log.Warn("failed to persist session", zap.Error(saveErr))
				}
			}
		}
		m.inflight = nil
		m.mu.Unlock()

		metrics.RecordLoginAttempt(err == nil)
		if err != nil {
			m.log.Error("login failed", zap.Error(err))
			var authErr *AuthError
			if errors.As(err, &authErr) {
				m.notifyReauth()
			}
		} else {
			m.log.Info("login succeeded", zap.String("account", m.account))
		}

		call.token, call.err = token, err
		close(call.done)
	}()
	return call
}

// login performs the two-step login protocol: request a one-time random code
// and server timestamp, then exchange the salted password hash for a token.
func (m *SessionManager) login(ctx context.Context) (string, error) {
	var code randomCodeResponse
	err := m.client.postJSON(ctx, "random-code", "official/user/query/random/code", "",
		randomCodeRequest{CountryCode: 1, Account: m.account}, &code)
	if err != nil {
		return "", err
	}

	var resp loginResponse
	err = m.client.postJSON(ctx, "login", "official/user/account/login/new", "",
		loginRequest{
			CountryCode: 1,
			Account:     m.account,
			Password:    encodePassword(m.password, code.RandomCode),
			Browser:     "Chrome107",
			Equipment:   1,
			LoginMethod: 1,
			Timestamp:   code.Timestamp,
			Language:    "en",
		}, &resp)
	if err != nil {
		if unauthorized(err) {
			return "", &AuthError{Detail: "login rejected", Err: err}
		}
		return "", err
	}
	if !resp.Success || resp.Token == "" {
		return "", &AuthError{Detail: errorDetail(resp.ErrorCode, resp.ErrorMsg)}
	}
	return resp.Token, nil
}

// encodePassword computes the salted password hash the login endpoint
// expects: sha256(md5(password) + code), both hex encoded.
func encodePassword(password, code string) string {
	inner := md5.Sum([]byte(password))
	outer := sha256.Sum256([]byte(hex.EncodeToString(inner[:]) + code))
	return hex.EncodeToString(outer[:])
}

func errorDetail(code, msg string) string {
	if msg == "" {
		msg = "login rejected"
	}
	if code != "" {
		return code + ": " + msg
	}
	return msg
}

// FileSessionStore persists the session as a JSON file, replaced atomically.
type FileSessionStore struct {
	Path string
}

// Load reads the persisted session. Corrupt or missing files are a miss.
func (s *FileSessionStore) Load() (Session, bool) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Session{}, false
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false
	}
	return sess, sess.Token != ""
}

// Save writes the session with a temp file then rename.
func (s *FileSessionStore) Save(sess Session) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes the persisted session, if any.
func (s *FileSessionStore) Delete() error {
	err := os.Remove(s.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
