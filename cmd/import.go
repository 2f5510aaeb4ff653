package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"textbook-rag/internal/importer"
)

var (
	importTitle    string
	importSubject  string
	importAudience string
	importIndex    bool
)

var importCmd = &cobra.Command{
	Use:   "import <pattern>...",
	Short: "Import documents as a textbook",
	Long: `Import existing documents (PDF, DOCX, PPTX, XLSX, Markdown, text) as a
textbook. Each file becomes a chapter. Patterns support ** globs.

Examples:
  textbook-rag import "notes/**/*.md" --title "Biology notes"
  textbook-rag import slides/*.pptx handout.pdf --subject Chemistry --index`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importTitle, "title", "", "textbook title (default: first document's title)")
	importCmd.Flags().StringVar(&importSubject, "subject", "", "subject area")
	importCmd.Flags().StringVar(&importAudience, "audience", "", "target audience")
	importCmd.Flags().BoolVar(&importIndex, "index", false, "index the textbook after importing")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.importer.Import(ctx, importer.Request{
		Patterns:       args,
		Title:          importTitle,
		SubjectArea:    importSubject,
		TargetAudience: importAudience,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d files as textbook %s (%d chapters, %d sections)\n",
		len(res.Files), res.TextbookID, res.Chapters, res.Sections)

	if importIndex {
		report, err := a.indexer.IndexTextbook(ctx, res.TextbookID)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		fmt.Printf("Indexed %d chunks\n", report.Chunks)
	}
	return nil
}
