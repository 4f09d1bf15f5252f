package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"edurag/internal/app"
	"edurag/internal/extract"
	"edurag/internal/service/documents"
	"edurag/internal/service/ingest"
)

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest local files synchronously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			failed := 0
			out := cmd.OutOrStdout()
			for _, path := range args {
				res, err := ingestFile(ctx, a, path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "OK   %s: document %d, %d chunks in %s\n", path, res.DocumentID, res.ChunkCount, res.Duration.Round(time.Millisecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

// ingestFile records the file and runs the pipeline inline. The document
// keeps no stored path because the file is not ours to clean up.
func ingestFile(ctx context.Context, a *app.App, path string) (*ingest.Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if !extract.Supported(ext) {
		return nil, fmt.Errorf("file type .%s not supported", ext)
	}
	doc, err := a.Documents.Create(ctx, documents.NewDocument{
		Filename:     name,
		OriginalName: name,
		FileType:     ext,
		FileSize:     info.Size(),
	})
	if err != nil {
		return nil, err
	}
	return a.Pipeline.Ingest(ctx, ingest.Request{
		DocumentID: doc.ID,
		Filename:   name,
		Format:     ext,
		Path:       path,
	})
}
