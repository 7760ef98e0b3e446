package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/internal/app"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/exam"
	"github.com/NAGH654/exam-submissions/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem    = flag.Bool("inmem", false, "use in-memory SQLite database")
		archive  = flag.String("archive", "", "archive to ingest, .zip or .rar (required)")
		examStr  = flag.String("exam-id", "", "exam the submissions belong to (defaults to the id in --exam-file)")
		examFile = flag.String("exam-file", "", "exam definition JSON to seed before ingesting")
		bulk     = flag.Bool("bulk", false, "archive is a bulk exam bundle (larger size limit)")
	)
	flag.Parse()

	if *archive == "" {
		printError("Error: --archive is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Build(ctx, common.LoadConfig(), *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var examID uuid.UUID
	if *examFile != "" {
		def, err := exam.Seed(ctx, a.Exams, *examFile, logger)
		if err != nil {
			logger.Error("failed to seed exam definition", "error", err)
			os.Exit(1)
		}
		examID = def.Exam.ID
	}
	if *examStr != "" {
		if examID, err = uuid.Parse(*examStr); err != nil {
			printError("Error: invalid --exam-id: %v\n", err)
			os.Exit(1)
		}
	}
	if examID == uuid.Nil {
		printError("Error: --exam-id or --exam-file is required\n")
		os.Exit(1)
	}

	res, err := a.Ingest.Process(ctx, ingest.Upload{
		ExamID: examID,
		Path:   *archive,
		Ext:    filepath.Ext(*archive),
		Bulk:   *bulk,
	})
	if err != nil {
		logger.Error("ingestion failed", "fatal", ingest.IsFatal(err), "error", err)
		if res == nil {
			os.Exit(1)
		}
	}

	fmt.Printf("Ingestion complete!\n")
	fmt.Printf("- Job: %s\n", res.JobID)
	fmt.Printf("- Files found: %d\n", res.TotalFiles)
	fmt.Printf("- Submissions created: %d\n", res.Processed)
	fmt.Printf("- Duplicates: %d\n", res.Duplicates)
	fmt.Printf("- Violations: %d\n", res.Violations)
	fmt.Printf("- Images extracted: %d\n", res.Images)
	fmt.Printf("- Errors: %d\n", res.Errors)
	for _, s := range res.Submissions {
		id := "-"
		if s.StudentID != nil {
			id = *s.StudentID
		}
		fmt.Printf("  %s  %-10s  %s\n", s.SubmissionID, id, s.FileName)
	}
	if err != nil {
		os.Exit(1)
	}
}
