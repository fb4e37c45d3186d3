// Package ingest drives the document pipeline: discover raw documents,
// summarize them into semantic views, embed each view, and hand records to
// the bulk indexer, with progress tracked in a checkpoint ledger.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/c360/bookrec/blobstore"
	"github.com/c360/bookrec/embedding"
	"github.com/c360/bookrec/errors"
)

// Document is one raw corpus entry ready for summarization.
type Document struct {
	ID       string
	Title    string
	Author   string
	Content  string
	Checksum string
}

var (
	gutenbergStart = regexp.MustCompile(`(?m)^\*\*\*\s*START OF (?:THE|THIS) PROJECT GUTENBERG EBOOK[^\n]*\*\*\*`)
	gutenbergEnd   = regexp.MustCompile(`(?m)^\*\*\*\s*END OF (?:THE|THIS) PROJECT GUTENBERG EBOOK[^\n]*\*\*\*`)
	titleLine      = regexp.MustCompile(`(?m)^Title:\s*(.+?)\s*$`)
	authorLine     = regexp.MustCompile(`(?m)^Author:\s*(.+?)\s*$`)
)

// Corpus reads raw documents from a blob store prefix.
type Corpus struct {
	store  blobstore.Store
	prefix string
	logger *slog.Logger
}

// NewCorpus creates a corpus over the given store and key prefix.
func NewCorpus(store blobstore.Store, prefix string, logger *slog.Logger) (*Corpus, error) {
	if store == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Corpus", "NewCorpus", "store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Corpus{store: store, prefix: prefix, logger: logger}, nil
}

// Discover lists the document keys under the corpus prefix.
func (c *Corpus) Discover(ctx context.Context) ([]string, error) {
	keys, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "Corpus", "Discover", "list documents")
	}
	return keys, nil
}

// Load fetches and cleans one document. Project Gutenberg boilerplate is
// stripped; title and author come from the header when present, the key
// otherwise.
func (c *Corpus) Load(ctx context.Context, key string) (Document, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return Document{}, err
	}
	if len(raw) == 0 {
		return Document{}, errors.WrapContent(errors.ErrEmptyInput, "Corpus", "Load", key)
	}

	text := string(raw)
	title, author := extractHeader(text, key)
	content := stripGutenberg(text)
	if strings.TrimSpace(content) == "" {
		return Document{}, errors.WrapContent(errors.ErrEmptyInput, "Corpus", "Load",
			fmt.Sprintf("%s after boilerplate removal", key))
	}

	return Document{
		ID:       DocumentID(key),
		Title:    title,
		Author:   author,
		Content:  content,
		Checksum: embedding.ContentHash(content),
	}, nil
}

// DocumentID derives a stable document id from a storage key.
func DocumentID(key string) string {
	base := path.Base(key)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// stripGutenberg removes the Project Gutenberg header and footer when the
// standard markers are present. Text without markers passes through whole.
func stripGutenberg(text string) string {
	if loc := gutenbergStart.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	if loc := gutenbergEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return strings.TrimSpace(text)
}

// extractHeader pulls Title: and Author: lines from the Gutenberg header,
// falling back to a name derived from the key.
func extractHeader(text, key string) (title, author string) {
	// Headers sit in the first few kilobytes; avoid matching deep in the body.
	head := text
	if len(head) > 4096 {
		head = head[:4096]
	}
	if m := titleLine.FindStringSubmatch(head); m != nil {
		title = m[1]
	}
	if m := authorLine.FindStringSubmatch(head); m != nil {
		author = m[1]
	}
	if title == "" {
		title = strings.ReplaceAll(DocumentID(key), "_", " ")
	}
	if author == "" {
		author = "Unknown"
	}
	return title, author
}
