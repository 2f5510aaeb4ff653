package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"textbook-rag/internal/generation"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/jobs"
	"textbook-rag/internal/models"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a textbook chapter by chapter",
	Long: `Generate a textbook from a subject, an audience and a list of chapter topics.
Chapters are generated in order; progress is shown while the LLM works.

Examples:
  textbook-rag generate -s Biology -a "High School" -t Cells -t Genetics
  textbook-rag generate -s Physics -a College -t Optics --no-exercises --index
  textbook-rag generate -s Biology -a "High School" -t Cells --save-params bio
  textbook-rag generate --from-params bio`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringP("subject", "s", "", "subject area")
	f.StringP("audience", "a", "", "target audience")
	f.StringSliceP("topic", "t", nil, "chapter topic (repeatable)")
	f.Bool("no-exercises", false, "omit exercise sections")
	f.Bool("no-summaries", false, "omit summary sections")
	f.Bool("no-diagrams", false, "do not ask for diagram suggestions")
	f.String("font-size", "", "font size hint: small, medium, large")
	f.String("layout", "", "layout hint: standard, compact, spacious")
	f.Bool("index", false, "index the textbook once generated")
	f.String("from-params", "", "start from a saved parameter set")
	f.String("save-params", "", "save the request as a named parameter set")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	f := cmd.Flags()
	subject, _ := f.GetString("subject")
	audience, _ := f.GetString("audience")
	topics, _ := f.GetStringSlice("topic")
	noExercises, _ := f.GetBool("no-exercises")
	noSummaries, _ := f.GetBool("no-summaries")
	noDiagrams, _ := f.GetBool("no-diagrams")
	fontSize, _ := f.GetString("font-size")
	layout, _ := f.GetString("layout")
	index, _ := f.GetBool("index")
	fromParams, _ := f.GetString("from-params")
	saveParams, _ := f.GetString("save-params")

	a, err := newApp(ctx, cfg, appOptions{llm: true, jobs: true})
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	var req models.GenerateTextbookRequest
	if fromParams != "" {
		ps, err := a.store.GetParameterSetByName(ctx, fromParams)
		if err != nil {
			return err
		}
		req = ps.Parameters
	}
	// Flags given on the command line override the saved set.
	if f.Changed("subject") {
		req.SubjectArea = subject
	}
	if f.Changed("audience") {
		req.TargetAudience = audience
	}
	if f.Changed("topic") {
		req.ChapterTopics = topics
	}
	if req.StylePreferences == nil || f.Changed("no-exercises") || f.Changed("no-summaries") || f.Changed("no-diagrams") {
		req.StylePreferences = &models.StylePreferences{
			IncludeExercises: !noExercises,
			IncludeSummaries: !noSummaries,
			IncludeDiagrams:  !noDiagrams,
		}
	}
	if fontSize != "" || layout != "" {
		req.FormatPreferences = &models.FormatPreferences{FontSize: fontSize, Layout: layout}
	}

	if saveParams != "" {
		if _, err := generation.Normalize(req); err != nil {
			return err
		}
		if _, err := a.store.SaveParameterSet(ctx, models.ParameterSet{Name: saveParams, Parameters: req}); err != nil {
			return err
		}
		log.Info().Str("name", saveParams).Msg("Saved parameter set")
	}

	a.jobs.SetObserver(newProgressBar())

	resp, err := a.generator.GenerateTextbook(ctx, req)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	fmt.Printf("Generated textbook %s\n", resp.TextbookID)

	if index {
		report, err := a.indexer.IndexTextbook(ctx, resp.TextbookID)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		log.Info().Str("textbook_id", resp.TextbookID).Int("chunks", report.Chunks).Msg("Indexed textbook")
		helper.PrettyPrint(report)
	}
	return nil
}

// newProgressBar renders job progress. The bar is created on the first
// update, once the chapter count is known.
func newProgressBar() jobs.Observer {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(id string, p jobs.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Generating[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Describe("[cyan]" + p.Message + "[reset]")
		bar.Set(p.Current)
	}
}
