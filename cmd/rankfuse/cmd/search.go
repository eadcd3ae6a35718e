package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/filter"
	"github.com/rankfuse/rankfuse/internal/output"
	"github.com/rankfuse/rankfuse/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	mode      string
	filterSrc string
	facets    []string
	format    string
	rerank    bool
	expand    bool
	diversify bool
	lambda    float64
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the indexed documents with hybrid retrieval.

BM25 keyword results and vector similarity results are fused with
Reciprocal Rank Fusion. Filters are JSON expressions over the declared
metadata schema.

Examples:
  rankfuse search "wireless headphones"
  rankfuse search "headphones" --mode lexical --limit 5
  rankfuse search "headphones" --filter '{"field":"category","op":"EQ","value":"audio"}'
  rankfuse search "headphones" --facet category --facet brand
  rankfuse search "headphones" --rerank --diversify --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: lexical, vector, hybrid")
	cmd.Flags().StringVar(&opts.filterSrc, "filter", "", "Metadata filter as a JSON expression")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Facet field (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank the fused results")
	cmd.Flags().BoolVar(&opts.expand, "expand", false, "Expand the query with variants")
	cmd.Flags().BoolVar(&opts.diversify, "diversify", false, "Diversify results with MMR")
	cmd.Flags().Float64Var(&opts.lambda, "lambda", 0, "MMR relevance/diversity balance, 0-1 (default from config)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, queryText string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg)()
	out := output.New(cmd.OutOrStdout())

	if opts.limit <= 0 {
		opts.limit = cfg.Search.MaxResults
	}
	if opts.lambda == 0 {
		opts.lambda = cfg.Search.MMRLambda
	}

	schema, err := cfg.MetadataSchema()
	if err != nil {
		return err
	}

	var filterExpr filter.Expr
	if opts.filterSrc != "" {
		filterExpr, err = filter.ParseJSON([]byte(opts.filterSrc), schema)
		if err != nil {
			return err
		}
	}

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	query := search.Query{
		Text:                  queryText,
		Filter:                filterExpr,
		Mode:                  search.Mode(opts.mode),
		K:                     opts.limit,
		Facets:                opts.facets,
		UseReranking:          opts.rerank,
		UseExpansion:          opts.expand,
		UseDiversification:    opts.diversify,
		DiversificationLambda: opts.lambda,
	}

	resp, err := eng.Search(ctx, query)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(cmd, out, resp)
	return nil
}

func printResults(cmd *cobra.Command, out *output.Writer, resp *search.Response) {
	w := cmd.OutOrStdout()

	if len(resp.Results) == 0 {
		out.Warning("no results")
		return
	}

	for i, r := range resp.Results {
		_, _ = fmt.Fprintf(w, "%2d. %-24s fused=%.4f", i+1, r.DocID, r.FusedScore)
		if r.LexicalRank > 0 {
			_, _ = fmt.Fprintf(w, "  lexical=#%d", r.LexicalRank)
		}
		if r.VectorRank > 0 {
			_, _ = fmt.Fprintf(w, "  vector=#%d", r.VectorRank)
		}
		if r.RerankScore > 0 {
			_, _ = fmt.Fprintf(w, "  rerank=%.3f", r.RerankScore)
		}
		_, _ = fmt.Fprintln(w)
	}

	for field, counts := range resp.Facets {
		out.Heading("facet: " + field)
		for _, c := range counts {
			out.Field(c.Value, c.Count)
		}
	}

	out.Newline()
	out.Field("candidates", resp.TotalCandidates)
	out.Field("retrieval_ms", resp.Timings.RetrievalMs)
	if resp.Degraded {
		out.Warningf("degraded: %s", strings.Join(resp.DegradedReasons, ", "))
	}
}
