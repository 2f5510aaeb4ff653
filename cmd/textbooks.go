package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"textbook-rag/internal/generation"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/jobs"
)

var (
	searchQuery string
	searchLimit int
	searchJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status <textbook-id>",
	Short: "Show the generation status of a textbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		// Progress is read while another process may be writing it.
		gen := generation.New(a.store, nil, generation.WithProgress(jobs.OpenReadOnly(cfg.Jobs.Path)))
		st, err := gen.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		helper.PrettyPrint(st)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <textbook-id>",
	Short: "Index every section of a textbook into the vector store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		report, err := a.indexer.IndexTextbook(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Indexing for textbook_id %s completed successfully.\n", args[0])
		fmt.Printf("  chapters: %d, sections: %d, chunks: %d\n", report.Chapters, report.Sections, report.Chunks)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <textbook-id>",
	Short: "Semantic search within one textbook",
	Long: `Search the indexed sections of a textbook.

Examples:
  textbook-rag search <textbook-id> -q "photosynthesis"
  textbook-rag search <textbook-id> -q "cell membrane" --limit 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		results, err := a.rag.Search(cmd.Context(), searchQuery, args[0], searchLimit)
		if err != nil {
			return err
		}
		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s / %s (score: %.3f)\n", i+1, r.Metadata.ChapterTitle, r.Metadata.Title, r.Score)
			fmt.Printf("   %s\n\n", helper.Truncate(strings.Join(strings.Fields(r.Text), " "), 200))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <textbook-id>",
	Short: "Delete a textbook and its indexed vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if _, err := a.store.GetTextbook(ctx, args[0]); err != nil {
			return err
		}
		if err := a.indexer.Forget(ctx, args[0]); err != nil {
			return err
		}
		if err := a.store.DeleteTextbook(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Textbook deleted successfully")
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(statusCmd, indexCmd, searchCmd, deleteCmd)
}
