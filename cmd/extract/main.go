// Command extract runs the configured extractor over one invoice file and
// prints the merged extraction as JSON. It touches no database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/extract"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/invoice-reconciler/internal/totals"
)

func main() {
	var (
		times    = flag.Int("times", 1, "run the extraction N times (useful for checking model stability)")
		strategy = flag.String("strategy", "", "override EXTRACTOR (auto, live, synthetic)")
		timeout  = flag.Duration("timeout", 2*time.Minute, "timeout per run")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: extract [flags] <invoice.pdf|png|jpg>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()
	// logs go to stderr so stdout stays valid JSON
	logger := common.NewLogger(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)
	if *strategy != "" {
		cfg.LLM.Strategy = *strategy
	}

	content, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}
	kind, mime, err := pipeline.Classify(filepath.Base(path), content)
	if err != nil {
		logger.Error("classify", "path", path, "error", err)
		os.Exit(2)
	}

	extractor, err := extract.New(cfg.LLM, cfg.Documents.MaxTextChars, logger)
	if err != nil {
		logger.Error("extractor", "error", err)
		os.Exit(2)
	}
	pager := document.NewPaginator(document.Config{Pdftotext: cfg.Documents.Pdftotext}, logger)
	doc := document.Document{Kind: kind, FileName: filepath.Base(path), MIME: mime, Content: content}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := 0
	for i := 1; i <= *times; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		out, err := extractDocument(ctx, pager, extractor, doc)
		cancel()
		if err != nil {
			failed++
			logger.Error("extract.run.error", "iter", i, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
			continue
		}
		logger.Info("extract.run.ok", "iter", i, "items", len(out.Items), "elapsed_ms", time.Since(start).Milliseconds())
		if err := enc.Encode(out); err != nil {
			logger.Error("encode", "error", err)
			os.Exit(1)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// extractDocument runs every page in order and merges them the same way the
// processing job does.
func extractDocument(ctx context.Context, pager *document.Paginator, ext llm.Extractor, doc document.Document) (entity.Extraction, error) {
	pages, err := pager.Pages(ctx, doc)
	if err != nil {
		return entity.Extraction{}, err
	}
	results := make([]entity.PageResult, 0, len(pages))
	for _, p := range pages {
		e, _, err := ext.Extract(ctx, p)
		if err != nil {
			return entity.Extraction{}, fmt.Errorf("page %d: %w", p.Index+1, err)
		}
		results = append(results, entity.PageResult{PageIndex: p.Index, Extraction: e})
	}
	merged := pipeline.Merge(results)
	totals.FillLineTotals(merged.Items)
	merged.Metadata = totals.ReconcileTotals(merged.Metadata, merged.Items)
	return merged, nil
}
