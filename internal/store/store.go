package store

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/metrics"
	"github.com/notemirror/notemirror/internal/notebook"
)

// Lister lists a remote folder's immediate children.
type Lister interface {
	ListFolder(ctx context.Context, folderID int64) ([]cloud.Entry, error)
}

// Remote is the remote document service surface the store depends on.
type Remote interface {
	Lister
	Fetcher
}

// Options configures a LocalStore.
type Options struct {
	MetadataTTL time.Duration
	Parsers     *notebook.Registry
	Now         func() time.Time // tests override the clock
}

// LocalStore is the single entry point for callers: folder contents, page
// lists, and rendered page bytes. It owns no state itself; it composes the
// metadata, document, and derived-asset caches and decides per request
// whether cached data suffices or the remote must be consulted.
type LocalStore struct {
	remote  Remote
	meta    *MetadataCache
	docs    *DocumentCache
	derived *DerivedAssetCache
	log     *zap.Logger

	listings flightGroup[int64, *FolderSnapshot]
}

// New creates a LocalStore rooted at layout.
func New(layout Layout, remote Remote, opts Options) *LocalStore {
	if opts.MetadataTTL == 0 {
		opts.MetadataTTL = time.Hour
	}
	if opts.Parsers == nil {
		opts.Parsers = notebook.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	derived := NewDerivedAssetCache(layout, opts.Parsers)
	return &LocalStore{
		remote:  remote,
		meta:    NewMetadataCache(layout, opts.MetadataTTL, opts.Now),
		docs:    NewDocumentCache(layout, remote, derived),
		derived: derived,
		log:     logging.Named("store"),
	}
}

// BrowseFolder returns the folder's listing, from cache when fresh. On a
// stale or absent snapshot the remote is consulted; concurrent requests for
// one folder share a single remote call. If the remote fails and a stale
// snapshot exists, it is served in degraded mode with the failure logged.
func (s *LocalStore) BrowseFolder(ctx context.Context, folderID int64) (*FolderSnapshot, error) {
	if snap, fresh := s.meta.Folder(folderID); fresh {
		metrics.RecordCacheHit("metadata")
		return snap, nil
	}
	metrics.RecordCacheMiss("metadata")

	snap, err := s.listings.Do(ctx, folderID, func(ctx context.Context) (*FolderSnapshot, error) {
		// A caller that queued behind the flight may find the snapshot
		// already refreshed.
		if snap, fresh := s.meta.Folder(folderID); fresh {
			return snap, nil
		}
		entries, err := s.remote.ListFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}
		return s.meta.PutFolder(folderID, entries)
	})
	if err != nil {
		if stale, _ := s.meta.Folder(folderID); stale != nil {
			s.log.Warn("remote listing failed, serving stale snapshot",
				zap.Int64("folder_id", folderID), zap.Error(err))
			metrics.RecordStaleFallback("metadata")
			return stale, nil
		}
		return nil, err
	}
	return snap, nil
}

// ListDocumentPages synchronizes the document locally and returns its page
// names.
func (s *LocalStore) ListDocumentPages(ctx context.Context, entry cloud.Entry) ([]string, error) {
	rec, err := s.ensureLocal(ctx, entry)
	if err != nil {
		return nil, err
	}
	return s.derived.ListPages(ctx, entry.Name, recordBytes(rec))
}

// GetPageAsset synchronizes the document locally and returns the rendered
// PNG of one page, derived lazily and cached.
func (s *LocalStore) GetPageAsset(ctx context.Context, entry cloud.Entry, page int) ([]byte, error) {
	rec, err := s.ensureLocal(ctx, entry)
	if err != nil {
		return nil, err
	}
	return s.derived.PageImage(ctx, entry.ParentID, entry.Name, page, recordBytes(rec))
}

// GetPageThumbnail is GetPageAsset's small-preview variant.
func (s *LocalStore) GetPageThumbnail(ctx context.Context, entry cloud.Entry, page int) ([]byte, error) {
	rec, err := s.ensureLocal(ctx, entry)
	if err != nil {
		return nil, err
	}
	return s.derived.PageThumbnail(ctx, entry.ParentID, entry.Name, page, recordBytes(rec))
}

// ensureLocal applies the degraded-mode policy: a download failure with a
// prior local copy present serves the stale copy with the failure logged;
// without one the failure surfaces.
func (s *LocalStore) ensureLocal(ctx context.Context, entry cloud.Entry) (*DocumentRecord, error) {
	rec, err := s.docs.EnsureLocal(ctx, entry)
	if err != nil {
		if rec == nil {
			return nil, err
		}
		s.log.Warn("document refresh failed, serving stale local copy",
			zap.String("name", entry.Name), zap.Error(err))
		metrics.RecordStaleFallback("document")
	}
	return rec, nil
}

// Documents exposes the document cache (content-serving hosts hand its
// records to HTTP file servers).
func (s *LocalStore) Documents() *DocumentCache { return s.docs }

// Metadata exposes the metadata cache.
func (s *LocalStore) Metadata() *MetadataCache { return s.meta }

func recordBytes(rec *DocumentRecord) BytesProvider {
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(rec.LocalPath)
	}
}
