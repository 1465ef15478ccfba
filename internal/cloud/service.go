package cloud

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/metrics"
)

// downloadURLTTL is how long a presigned download URL is reused before a new
// one is requested. The remote signs URLs for a short window only.
const downloadURLTTL = time.Minute

// listPageSize is the page size for folder listings.
const listPageSize = 100

// Entry is one child of a folder listing, mapped from the wire schema into
// the internal model. Entries are immutable once fetched.
type Entry struct {
	ID         int64     `json:"id"`
	ParentID   int64     `json:"parent_id"`
	Name       string    `json:"name"`
	IsFolder   bool      `json:"is_folder"`
	Size       int64     `json:"size"`
	MD5        string    `json:"md5,omitempty"` // empty for folders
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

// Account is the remote account profile.
type Account struct {
	ID         string
	Name       string
	FileServer string
}

// Service issues the document operations against the remote API,
// authenticated through a SessionManager. It is stateless apart from a short
// TTL cache of presigned download URLs.
type Service struct {
	client   *Client
	sessions *SessionManager
	now      func() time.Time
	log      *zap.Logger

	mu   sync.Mutex
	urls map[int64]cachedURL
}

type cachedURL struct {
	url       string
	fetchedAt time.Time
}

// NewService creates a service on top of client and sessions.
func NewService(client *Client, sessions *SessionManager) *Service {
	return &Service{
		client:   client,
		sessions: sessions,
		now:      time.Now,
		log:      logging.Named("cloud"),
		urls:     make(map[int64]cachedURL),
	}
}

// ListFolder returns the immediate children of a folder, newest first.
func (s *Service) ListFolder(ctx context.Context, folderID int64) ([]Entry, error) {
	var resp fileListResponse
	err := s.call(ctx, "list-folder", "file/list/query", fileListRequest{
		DirectoryID: folderID,
		PageNo:      1,
		PageSize:    listPageSize,
		Order:       "time",
		Sequence:    "desc",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: "list-folder", Code: resp.ErrorCode, Detail: resp.ErrorMsg}
	}

	entries := make([]Entry, 0, len(resp.FileList))
	for _, f := range resp.FileList {
		entry := Entry{
			ID:         f.ID,
			ParentID:   f.DirectoryID,
			Name:       f.FileName,
			IsFolder:   f.IsFolder == "Y",
			Size:       f.Size,
			CreateTime: time.UnixMilli(f.CreateTime),
			UpdateTime: time.UnixMilli(f.UpdateTime),
		}
		if !entry.IsFolder {
			entry.MD5 = f.MD5
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FetchFile downloads a file's bytes. Two steps: obtain a short-lived signed
// download URL (authenticated), then fetch the bytes from it (the presigned
// request carries no access token).
func (s *Service) FetchFile(ctx context.Context, fileID int64) ([]byte, error) {
	url, err := s.downloadURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	start := s.now()
	data, err := s.client.getBytes(ctx, "fetch-file", url)
	metrics.RecordRemoteCall("fetch-file", s.now().Sub(start), err == nil)
	if err != nil {
		// The signed URL may have lapsed; don't reuse it.
		s.mu.Lock()
		delete(s.urls, fileID)
		s.mu.Unlock()
		return nil, err
	}
	metrics.RecordDownload(int64(len(data)))
	s.log.Debug("fetched file", zap.Int64("file_id", fileID), zap.Int("bytes", len(data)))
	return data, nil
}

// QueryAccount returns the account profile. Used at setup to establish the
// cache namespace; not on the hot path.
func (s *Service) QueryAccount(ctx context.Context, account string) (*Account, error) {
	var resp queryUserResponse
	err := s.call(ctx, "query-account", "user/query",
		queryUserRequest{CountryCode: 1, Account: account}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: "query-account", Code: resp.ErrorCode, Detail: resp.ErrorMsg}
	}
	return &Account{ID: resp.UserID, Name: resp.UserName, FileServer: resp.FileServer}, nil
}

// downloadURL returns a signed download URL for the file, reusing a recently
// issued one when still within its TTL.
func (s *Service) downloadURL(ctx context.Context, fileID int64) (string, error) {
	s.mu.Lock()
	if cached, ok := s.urls[fileID]; ok && s.now().Sub(cached.fetchedAt) < downloadURLTTL {
		s.mu.Unlock()
		return cached.url, nil
	}
	s.mu.Unlock()

	var resp downloadURLResponse
	err := s.call(ctx, "download-url", "file/download/url",
		downloadURLRequest{ID: fileID, Type: 0}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.URL == "" {
		return "", &APIError{Op: "download-url", Code: resp.ErrorCode, Detail: resp.ErrorMsg}
	}

	s.mu.Lock()
	s.urls[fileID] = cachedURL{url: resp.URL, fetchedAt: s.now()}
	s.mu.Unlock()
	return resp.URL, nil
}

// call performs an authenticated API call. On a 401 the session is
// invalidated and the call retried once with a freshly issued token; a second
// 401 is terminal and surfaces as an AuthError.
func (s *Service) call(ctx context.Context, op, path string, body, out any) error {
	token, err := s.sessions.Token(ctx)
	if err != nil {
		return err
	}

	start := s.now()
	err = s.client.postJSON(ctx, op, path, token, body, out)
	metrics.RecordRemoteCall(op, s.now().Sub(start), err == nil)
	if err == nil || !unauthorized(err) {
		return err
	}

	// Token rejected despite looking unexpired: revoked server-side.
	s.log.Warn("token rejected, forcing refresh", zap.String("op", op))
	s.sessions.Invalidate()
	token, err = s.sessions.Token(ctx)
	if err != nil {
		return err
	}

	start = s.now()
	err = s.client.postJSON(ctx, op, path, token, body, out)
	metrics.RecordRemoteCall(op, s.now().Sub(start), err == nil)
	if err != nil && unauthorized(err) {
		s.sessions.notifyReauth()
		return &AuthError{Detail: "token rejected after refresh", Err: err}
	}
	return err
}
