// Package document splits uploaded invoices into extraction pages.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
)

// ErrNoPages is returned for documents that yield zero pages.
var ErrNoPages = errors.New("document has no pages")

// Document is an uploaded file held in memory.
type Document struct {
	Kind     constants.DocumentKind
	FileName string
	MIME     string
	Content  []byte
}

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	TempDir   string // scratch space for the pdftotext fallback; empty = os.TempDir()
}

// Paginator turns a Document into ordered llm.Pages. PDF text is read per page
// with ledongthuc/pdf; when that parser fails or finds no text at all,
// pdftotext is run and its output split on form feeds.
type Paginator struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Paginator)

// WithRunner replaces the command runner used for the pdftotext fallback.
func WithRunner(r Runner) Option {
	return func(p *Paginator) { p.runner = r }
}

func NewPaginator(cfg Config, logger *slog.Logger, opts ...Option) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	p := &Paginator{cfg: cfg, runner: ExecRunner{Logger: logger}, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pages returns one Page per physical page. Image documents are a single page.
func (p *Paginator) Pages(ctx context.Context, doc Document) ([]llm.Page, error) {
	switch doc.Kind {
	case constants.IMAGE:
		if len(doc.Content) == 0 {
			return nil, ErrNoPages
		}
		return []llm.Page{{
			Index:    0,
			Kind:     constants.IMAGE,
			Image:    doc.Content,
			MIME:     doc.MIME,
			FileName: doc.FileName,
		}}, nil
	case constants.PDF:
		texts, err := p.pdfPages(ctx, doc)
		if err != nil {
			return nil, err
		}
		pages := make([]llm.Page, len(texts))
		for i, t := range texts {
			pages[i] = llm.Page{Index: i, Kind: constants.PDF, Text: t, MIME: "application/pdf", FileName: doc.FileName}
		}
		return pages, nil
	default:
		return nil, fmt.Errorf("unsupported document kind %q", doc.Kind)
	}
}

// Count returns the number of pages Pages would produce.
func (p *Paginator) Count(ctx context.Context, doc Document) (int, error) {
	pages, err := p.Pages(ctx, doc)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (p *Paginator) pdfPages(ctx context.Context, doc Document) ([]string, error) {
	start := time.Now()
	texts, err := readPDFText(doc.Content)
	if err == nil && hasText(texts) {
		p.logger.Debug("document.pdf.parsed", "file", doc.FileName, "pages", len(texts), "method", "pdf-text", "elapsed_ms", time.Since(start).Milliseconds())
		return texts, nil
	}
	if err != nil {
		p.logger.Warn("document.pdf.parse_failed", "file", doc.FileName, "error", err)
	}

	fallback, ferr := p.pdftotext(ctx, doc.Content)
	if ferr != nil {
		// keep the parser's page count when it had one; pages are then empty text
		if err == nil && len(texts) > 0 {
			p.logger.Warn("document.pdf.no_text", "file", doc.FileName, "pages", len(texts), "error", ferr)
			return texts, nil
		}
		return nil, fmt.Errorf("read pdf: %w", errors.Join(err, ferr))
	}
	if len(fallback) == 0 {
		return nil, ErrNoPages
	}
	p.logger.Debug("document.pdf.parsed", "file", doc.FileName, "pages", len(fallback), "method", "pdftotext", "elapsed_ms", time.Since(start).Milliseconds())
	return fallback, nil
}

// readPDFText extracts plain text per page. The parser panics on some
// malformed input, so panics are turned into errors.
func readPDFText(content []byte) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("pdf parser: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	if n == 0 {
		return nil, ErrNoPages
	}
	texts = make([]string, n)
	for i := 1; i <= n; i++ {
		pg := r.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, perr := pg.GetPlainText(nil)
		if perr != nil {
			return nil, fmt.Errorf("page %d: %w", i, perr)
		}
		texts[i-1] = strings.TrimSpace(txt)
	}
	return texts, nil
}

func (p *Paginator) pdftotext(ctx context.Context, content []byte) ([]string, error) {
	f, err := os.CreateTemp(p.cfg.TempDir, "invoice-*.pdf")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.runner.Run(ctx, p.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", filepath.Clean(path), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	return splitFormFeeds(string(out)), nil
}

// splitFormFeeds splits pdftotext output into pages. pdftotext terminates
// every page with \f, so a trailing empty segment is dropped.
func splitFormFeeds(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\f")
	if strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func hasText(texts []string) bool {
	for _, t := range texts {
		if t != "" {
			return true
		}
	}
	return false
}
