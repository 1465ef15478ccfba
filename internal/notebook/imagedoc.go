package notebook

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// ImageParser treats a plain image file as a single-page document. The page
// id is the content hash, so a changed image yields a new page identity.
type ImageParser struct{}

// Parse decodes the image eagerly; a malformed file fails here rather than
// at render time.
func (ImageParser) Parse(data []byte) (Document, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	sum := md5.Sum(data)
	return &imageDocument{img: img, id: hex.EncodeToString(sum[:])}, nil
}

type imageDocument struct {
	img image.Image
	id  string
}

func (d *imageDocument) PageIDs() []string {
	return []string{d.id}
}

func (d *imageDocument) RenderPage(_ context.Context, page int) (image.Image, error) {
	if page != 0 {
		return nil, fmt.Errorf("invalid page number %d", page)
	}
	return d.img, nil
}
