// Command inventory-export writes a tenant's inventory workbook. With -dir it
// first ingests and processes every invoice in the directory, which makes it
// usable as an offline batch run against an in-memory database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/export"
	"github.com/joseph-ayodele/invoice-reconciler/internal/extract"
	"github.com/joseph-ayodele/invoice-reconciler/internal/ingest"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
	repo "github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		tenant  = flag.String("tenant", "", "tenant id (required)")
		inmem   = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dir     = flag.String("dir", "", "directory of invoices to process before exporting (optional)")
		out     = flag.String("out", "", "output XLSX file path (defaults to inventory-<tenant>.xlsx)")
		fromStr = flag.String("from", "", "movements from date YYYY-MM-DD")
		toStr   = flag.String("to", "", "movements to date YYYY-MM-DD")
	)
	flag.Parse()

	if *tenant == "" {
		printError("Error: --tenant is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = fmt.Sprintf("inventory-%s.xlsx", *tenant)
	}

	from, err := parseDate(*fromStr)
	if err != nil {
		printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}
	to, err := parseDate(*toStr)
	if err != nil {
		printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)
	if *inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = "file:inventory-export?mode=memory"
	}
	if cfg.Database.DSN == "" {
		printError("Error: DB_URL is required unless --inmem is set\n")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)
	if err := db.Migrate(ctx, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	store := repo.NewStore(db, logger)

	if *dir != "" {
		processed, failures, err := processDir(ctx, cfg, store, *tenant, *dir, logger)
		if err != nil {
			logger.Error("failed to process directory", "error", err)
			os.Exit(1)
		}
		fmt.Printf("- Invoices processed: %d\n", processed)
		fmt.Printf("- Failures: %d\n", failures)
	}

	b, err := export.NewService(store, logger).ExportWorkbook(ctx, *tenant, from, to)
	if err != nil {
		logger.Error("failed to export workbook", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}
	fmt.Printf("- Output: %s\n", *out)
}

// processDir uploads every invoice in dir and runs each processing job
// inline, in upload order.
func processDir(ctx context.Context, cfg *common.Config, store repo.Store, tenant, dir string, logger *slog.Logger) (int, int, error) {
	extractor, err := extract.New(cfg.LLM, cfg.Documents.MaxTextChars, logger)
	if err != nil {
		return 0, 0, err
	}
	blobDir := cfg.Documents.StorageDir
	if blobDir == "" {
		blobDir = filepath.Join(os.TempDir(), "inventory-export")
	}
	blobs, err := ingest.NewBlobStore(blobDir, logger)
	if err != nil {
		return 0, 0, err
	}
	pager := document.NewPaginator(document.Config{Pdftotext: cfg.Documents.Pdftotext}, logger)
	proc := pipeline.NewProcessor(logger, pipeline.Config{
		PageConcurrency: cfg.Pipeline.PageConcurrency,
		LeaseTTL:        cfg.Pipeline.LeaseTTL,
	}, store, blobs, pager, extractor, nil)

	results, stats, err := ingest.NewInbox(dir, tenant, proc, logger).IngestDirectory(ctx)
	if err != nil {
		return 0, 0, err
	}
	logger.Info("ingestion complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)

	processed, failures := 0, int(stats.Failed)
	for _, r := range results {
		if r.Err != "" {
			continue
		}
		id, err := uuid.Parse(r.InvoiceID)
		if err != nil {
			failures++
			continue
		}
		runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.ProcessTimeout)
		err = proc.Advance(runCtx, tenant, id)
		cancel()
		if err != nil {
			logger.Error("failed to process invoice", "invoice_id", id, "path", r.Path, "error", err)
			failures++
			continue
		}
		processed++
	}
	return processed, failures, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
