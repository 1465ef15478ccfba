// Package notebook defines the document decoding capability used to derive
// page images from cached documents. The proprietary notebook format decoder
// is injected by the host; a built-in parser handles plain image documents.
package notebook

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// NoteSuffix is the file extension of proprietary notebook documents.
const NoteSuffix = ".note"

// Document is a parsed, page-addressable document.
type Document interface {
	// PageIDs returns a stable identifier per page, in page order.
	PageIDs() []string
	// RenderPage rasterizes one page.
	RenderPage(ctx context.Context, page int) (image.Image, error)
}

// Parser decodes a document format into a Document.
type Parser interface {
	Parse(data []byte) (Document, error)
}

// Registry maps file extensions (lowercase, with dot) to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register installs a parser for an extension, replacing any previous one.
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// ForFile returns the parser for a file name.
func (r *Registry) ForFile(name string) (Parser, bool) {
	p, ok := r.parsers[strings.ToLower(filepath.Ext(name))]
	return p, ok
}

// Stem returns the file name without its extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// PageNames returns display names for each page of a document, formed as
// {stem}-{NNN}-{pageID}.
func PageNames(fileName string, doc Document) []string {
	stem := Stem(fileName)
	ids := doc.PageIDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = fmt.Sprintf("%s-%03d-%s", stem, i, id)
	}
	return names
}
