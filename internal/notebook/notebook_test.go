package notebook

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
)

type stubDocument struct{ ids []string }

func (d stubDocument) PageIDs() []string { return d.ids }
func (d stubDocument) RenderPage(context.Context, int) (image.Image, error) {
	return nil, nil
}

type stubParser struct{}

func (stubParser) Parse([]byte) (Document, error) { return stubDocument{}, nil }

func TestRegistry_ForFileIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(".Note", stubParser{})

	for _, name := range []string{"a.note", "b.NOTE", "dir/c.Note"} {
		if _, ok := r.ForFile(name); !ok {
			t.Errorf("ForFile(%q) found no parser", name)
		}
	}
	if _, ok := r.ForFile("a.pdf"); ok {
		t.Error("ForFile matched an unregistered extension")
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"Guitar.note":    "Guitar",
		"report.v2.note": "report.v2",
		"noextension":    "noextension",
		"trailingdot.":   "trailingdot",
	}
	for in, want := range cases {
		if got := Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPageNames(t *testing.T) {
	doc := stubDocument{ids: []string{"PZXC123", "PQWE456"}}
	got := PageNames("Guitar.note", doc)
	want := []string{"Guitar-000-PZXC123", "Guitar-001-PQWE456"}
	if len(got) != len(want) {
		t.Fatalf("PageNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("page %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestImageParser_SinglePage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	doc, err := ImageParser{}.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ids := doc.PageIDs()
	if len(ids) != 1 || ids[0] == "" {
		t.Fatalf("PageIDs = %v, want one non-empty id", ids)
	}

	rendered, err := doc.RenderPage(testContext(t), 0)
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if got := rendered.Bounds(); got != img.Bounds() {
		t.Errorf("bounds = %v, want %v", got, img.Bounds())
	}

	if _, err := doc.RenderPage(testContext(t), 1); err == nil {
		t.Error("RenderPage(1) succeeded for a one-page document")
	}
}

func TestImageParser_RejectsGarbage(t *testing.T) {
	if _, err := (ImageParser{}).Parse([]byte("not an image")); err == nil {
		t.Fatal("Parse accepted malformed data")
	}
}
