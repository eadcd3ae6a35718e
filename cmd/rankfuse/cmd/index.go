package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/output"
	"github.com/rankfuse/rankfuse/internal/store"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	batchSize int
	sourceTag string
}

// wireDoc is one JSONL input line.
type wireDoc struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text"`
	SourceTag string                 `json:"source_tag,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <documents.jsonl>",
		Short: "Index documents from a JSONL file",
		Long: `Index documents from a JSONL file. Each line is an object:

  {"id": "doc-1", "text": "...", "source_tag": "catalog",
   "metadata": {"category": "books", "rating": 4.5}}

Metadata fields must be declared in the schema block of .rankfuse.yaml.
Embeddings are computed during ingest; pass "-" to read from stdin.

Examples:
  rankfuse index corpus.jsonl
  cat corpus.jsonl | rankfuse index -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 64, "Documents per ingest batch")
	cmd.Flags().StringVar(&opts.sourceTag, "source-tag", "", "Default source tag for documents without one")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg)()
	out := output.New(cmd.OutOrStdout())

	schema, err := cfg.MetadataSchema()
	if err != nil {
		return err
	}

	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	docs, err := readDocuments(in, schema, opts.sourceTag)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		out.Warning("no documents to index")
		return nil
	}

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	start := time.Now()
	if err := eng.IndexBatch(ctx, docs, opts.batchSize); err != nil {
		return err
	}
	if err := eng.Save(cfg.Storage.DataDir); err != nil {
		return err
	}

	out.Successf("indexed %d documents in %s (total: %d)",
		len(docs), time.Since(start).Round(time.Millisecond), eng.Stats().Documents)
	return nil
}

func readDocuments(in *os.File, schema meta.Schema, defaultTag string) ([]*store.Document, error) {
	var docs []*store.Document
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var wd wireDoc
		if err := json.Unmarshal(raw, &wd); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		md, err := meta.FromUntyped(schema, wd.Metadata)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		tag := wd.SourceTag
		if tag == "" {
			tag = defaultTag
		}
		docs = append(docs, &store.Document{
			ID:        wd.ID,
			Text:      wd.Text,
			SourceTag: tag,
			Metadata:  md,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
