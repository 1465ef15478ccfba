package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/notebook"
)

// fakeRemote is an in-memory remote document service.
type fakeRemote struct {
	mu         sync.Mutex
	folders    map[int64][]cloud.Entry
	files      map[int64][]byte
	listCalls  int
	fetchCalls int
	listDelay  time.Duration
	err        error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		folders: make(map[int64][]cloud.Entry),
		files:   make(map[int64][]byte),
	}
}

func (r *fakeRemote) ListFolder(_ context.Context, folderID int64) ([]cloud.Entry, error) {
	r.mu.Lock()
	r.listCalls++
	delay, err := r.listDelay, r.err
	entries := r.folders[folderID]
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *fakeRemote) FetchFile(_ context.Context, fileID int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchCalls++
	if r.err != nil {
		return nil, r.err
	}
	data, ok := r.files[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (r *fakeRemote) counts() (lists, fetches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls, r.fetchCalls
}

func (r *fakeRemote) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// pngBytes encodes a solid-color PNG.
func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(t *testing.T, remote Remote, clock *fakeClock) *LocalStore {
	t.Helper()
	parsers := notebook.NewRegistry()
	parsers.Register(".png", notebook.ImageParser{})
	return New(testLayout(t), remote, Options{
		MetadataTTL: time.Hour,
		Parsers:     parsers,
		Now:         clock.Now,
	})
}

func TestBrowseFolder_CachesWithinTTL(t *testing.T) {
	remote := newFakeRemote()
	remote.folders[1] = someEntries()
	clock := newFakeClock()
	s := newTestStore(t, remote, clock)

	first, err := s.BrowseFolder(testContext(t), 1)
	if err != nil {
		t.Fatalf("BrowseFolder: %v", err)
	}
	if len(first.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(first.Entries))
	}

	clock.Advance(30 * time.Minute)
	second, err := s.BrowseFolder(testContext(t), 1)
	if err != nil {
		t.Fatalf("BrowseFolder: %v", err)
	}
	if !second.FetchedAt.Equal(first.FetchedAt) {
		t.Error("snapshot was refreshed inside the TTL window")
	}
	if lists, _ := remote.counts(); lists != 1 {
		t.Errorf("listCalls = %d, want 1", lists)
	}

	// Past the TTL the remote is consulted again.
	clock.Advance(60 * time.Minute)
	third, err := s.BrowseFolder(testContext(t), 1)
	if err != nil {
		t.Fatalf("BrowseFolder: %v", err)
	}
	if !third.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", third.FetchedAt, clock.Now())
	}
	if lists, _ := remote.counts(); lists != 2 {
		t.Errorf("listCalls = %d, want 2", lists)
	}
}

func TestBrowseFolder_ConcurrentMissSharesOneCall(t *testing.T) {
	remote := newFakeRemote()
	remote.folders[1] = someEntries()
	remote.listDelay = 50 * time.Millisecond
	s := newTestStore(t, remote, newFakeClock())

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.BrowseFolder(testContext(t), 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if lists, _ := remote.counts(); lists != 1 {
		t.Errorf("listCalls = %d, want 1 (shared flight)", lists)
	}
}

func TestBrowseFolder_StaleFallbackOnRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.folders[1] = someEntries()
	clock := newFakeClock()
	s := newTestStore(t, remote, clock)

	if _, err := s.BrowseFolder(testContext(t), 1); err != nil {
		t.Fatalf("BrowseFolder: %v", err)
	}

	clock.Advance(2 * time.Hour)
	remote.setErr(errors.New("connection refused"))

	snap, err := s.BrowseFolder(testContext(t), 1)
	if err != nil {
		t.Fatalf("expected degraded snapshot, got error: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Errorf("degraded snapshot entries = %d, want 2", len(snap.Entries))
	}
}

func TestBrowseFolder_FailureWithoutFallbackSurfaces(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errors.New("connection refused"))
	s := newTestStore(t, remote, newFakeClock())

	if _, err := s.BrowseFolder(testContext(t), 1); err == nil {
		t.Fatal("expected error when no cached snapshot exists")
	}
}

func TestGetPageAsset_EndToEnd(t *testing.T) {
	doc := pngBytes(t, color.RGBA{R: 200, A: 255})
	remote := newFakeRemote()
	remote.files[11] = doc
	s := newTestStore(t, remote, newFakeClock())

	entry := cloud.Entry{ID: 11, ParentID: 1, Name: "sketch.png", Size: int64(len(doc)), MD5: hashBytes(doc)}

	pages, err := s.ListDocumentPages(testContext(t), entry)
	if err != nil {
		t.Fatalf("ListDocumentPages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("pages = %v, want one page", pages)
	}

	first, err := s.GetPageAsset(testContext(t), entry, 0)
	if err != nil {
		t.Fatalf("GetPageAsset: %v", err)
	}
	second, err := s.GetPageAsset(testContext(t), entry, 0)
	if err != nil {
		t.Fatalf("GetPageAsset: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("repeated page asset differs")
	}
	if _, fetches := remote.counts(); fetches != 1 {
		t.Errorf("fetchCalls = %d, want 1 (document cached)", fetches)
	}
}

func TestGetPageAsset_HashChangeInvalidatesDerived(t *testing.T) {
	v1 := pngBytes(t, color.RGBA{R: 200, A: 255})
	v2 := pngBytes(t, color.RGBA{B: 200, A: 255})
	remote := newFakeRemote()
	remote.files[11] = v1
	s := newTestStore(t, remote, newFakeClock())

	entry := cloud.Entry{ID: 11, ParentID: 1, Name: "sketch.png", MD5: hashBytes(v1)}
	before, err := s.GetPageAsset(testContext(t), entry, 0)
	if err != nil {
		t.Fatalf("GetPageAsset: %v", err)
	}

	// Remote content changes: new hash, new bytes.
	remote.mu.Lock()
	remote.files[11] = v2
	remote.mu.Unlock()
	entry.MD5 = hashBytes(v2)

	after, err := s.GetPageAsset(testContext(t), entry, 0)
	if err != nil {
		t.Fatalf("GetPageAsset: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Error("page asset unchanged after document content change")
	}
	if _, fetches := remote.counts(); fetches != 2 {
		t.Errorf("fetchCalls = %d, want 2", fetches)
	}

	img, err := png.Decode(bytes.NewReader(after))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	_, _, b, _ := img.At(0, 0).RGBA()
	if uint8(b>>8) != 200 {
		t.Errorf("pixel blue = %d, want 200 (rendered from new bytes)", uint8(b>>8))
	}
}

func TestGetPageAsset_StaleDocumentServedOnFetchFailure(t *testing.T) {
	v1 := pngBytes(t, color.RGBA{R: 200, A: 255})
	remote := newFakeRemote()
	remote.files[11] = v1
	s := newTestStore(t, remote, newFakeClock())

	entry := cloud.Entry{ID: 11, ParentID: 1, Name: "sketch.png", MD5: hashBytes(v1)}
	if _, err := s.GetPageAsset(testContext(t), entry, 0); err != nil {
		t.Fatalf("GetPageAsset: %v", err)
	}

	// The remote now reports new content but is unreachable: the stale
	// local copy keeps serving.
	remote.setErr(errors.New("connection refused"))
	entry.MD5 = "0123456789abcdef"

	data, err := s.GetPageAsset(testContext(t), entry, 0)
	if err != nil {
		t.Fatalf("expected degraded serve, got error: %v", err)
	}
	if len(data) == 0 {
		t.Error("degraded serve returned no data")
	}
}
