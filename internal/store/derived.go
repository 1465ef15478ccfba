package store

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/metrics"
	"github.com/notemirror/notemirror/internal/notebook"
)

const (
	thumbMaxSize = 400
	thumbQuality = 80
)

// BytesProvider supplies the verified document bytes on demand, so cache
// hits never touch the document at all.
type BytesProvider func(ctx context.Context) ([]byte, error)

// DerivedAssetCache renders and caches per-page images of cached documents.
// A page is decoded lazily, on first access, and the result is reused until
// the owning document's bytes change (DocumentCache invalidates then).
type DerivedAssetCache struct {
	layout  Layout
	parsers *notebook.Registry
	log     *zap.Logger

	renders flightGroup[string, []byte]
}

// NewDerivedAssetCache creates the cache over the given parser registry.
func NewDerivedAssetCache(layout Layout, parsers *notebook.Registry) *DerivedAssetCache {
	return &DerivedAssetCache{
		layout:  layout,
		parsers: parsers,
		log:     logging.Named("derived"),
	}
}

// ListPages returns the page names of a document. The document's table of
// contents is decoded on every call; only the byte-level document cache
// backs it.
func (c *DerivedAssetCache) ListPages(ctx context.Context, name string, contents BytesProvider) ([]string, error) {
	doc, err := c.parse(ctx, name, contents)
	if err != nil {
		return nil, err
	}
	return notebook.PageNames(name, doc), nil
}

// PageImage returns the rendered PNG for one page of a document, rendering
// and caching it on first access. Concurrent requests for the same page
// share one render.
func (c *DerivedAssetCache) PageImage(ctx context.Context, parentID int64, name string, page int, contents BytesProvider) ([]byte, error) {
	path := c.layout.PagePath(parentID, name, page)
	if data, err := os.ReadFile(path); err == nil {
		metrics.RecordCacheHit("derived")
		return data, nil
	}
	metrics.RecordCacheMiss("derived")

	return c.renders.Do(ctx, path, func(ctx context.Context) ([]byte, error) {
		// A parallel caller may have finished the render first.
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}

		start := time.Now()
		data, err := c.render(ctx, name, page, contents)
		metrics.RecordPageRender(time.Since(start), err == nil)
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(path, data, 0644); err != nil {
			return nil, fmt.Errorf("store page image: %w", err)
		}
		c.log.Debug("rendered page",
			zap.String("name", name), zap.Int("page", page), zap.Int("bytes", len(data)))
		return data, nil
	})
}

// PageThumbnail returns a small JPEG preview of one page, derived from the
// cached full-size render and cached alongside it.
func (c *DerivedAssetCache) PageThumbnail(ctx context.Context, parentID int64, name string, page int, contents BytesProvider) ([]byte, error) {
	path := c.layout.ThumbPath(parentID, name, page)
	if data, err := os.ReadFile(path); err == nil {
		metrics.RecordCacheHit("derived")
		return data, nil
	}
	metrics.RecordCacheMiss("derived")

	return c.renders.Do(ctx, path, func(ctx context.Context) ([]byte, error) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}

		full, err := c.PageImage(ctx, parentID, name, page, contents)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(full))
		if err != nil {
			return nil, fmt.Errorf("decode page image: %w", err)
		}
		thumb := imaging.Fit(img, thumbMaxSize, thumbMaxSize, imaging.Lanczos)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
			return nil, fmt.Errorf("encode thumbnail: %w", err)
		}
		if err := writeFileAtomic(path, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("store thumbnail: %w", err)
		}
		return buf.Bytes(), nil
	})
}

// Invalidate deletes every derived asset for a document. Called when the
// document's bytes are replaced; assets are never served from stale bytes.
func (c *DerivedAssetCache) Invalidate(parentID int64, name string) error {
	dir := c.layout.DerivedDir(parentID, name)
	c.log.Debug("invalidating derived assets", zap.String("dir", dir))
	return os.RemoveAll(dir)
}

// render decodes the document and rasterizes one page as PNG.
func (c *DerivedAssetCache) render(ctx context.Context, name string, page int, contents BytesProvider) ([]byte, error) {
	doc, err := c.parse(ctx, name, contents)
	if err != nil {
		return nil, err
	}
	if page < 0 || page >= len(doc.PageIDs()) {
		return nil, fmt.Errorf("invalid page number %d for %s", page, name)
	}

	img, err := doc.RenderPage(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("render page %d of %s: %w", page, name, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode page %d of %s: %w", page, name, err)
	}
	return buf.Bytes(), nil
}

func (c *DerivedAssetCache) parse(ctx context.Context, name string, contents BytesProvider) (notebook.Document, error) {
	parser, ok := c.parsers.ForFile(name)
	if !ok {
		return nil, fmt.Errorf("no parser registered for %s", name)
	}
	data, err := contents(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return doc, nil
}
