package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"textbook-rag/internal/chat"
	"textbook-rag/internal/tui"
)

var (
	chatOnce    bool
	chatQuery   string
	chatSession string
	chatLogFile string
)

var chatCmd = &cobra.Command{
	Use:   "chat <textbook-id>",
	Short: "Ask questions about a textbook",
	Long: `Open an interactive chat over one textbook, or ask a single question.

Examples:
  textbook-rag chat <textbook-id>
  textbook-rag chat <textbook-id> --once -q "What is osmosis?"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatOnce, "once", false, "print a single answer and exit")
	chatCmd.Flags().StringVarP(&chatQuery, "query", "q", "", "question for --once")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "continue an existing chat session (with --once)")
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "", "write logs here while the chat screen is open")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	textbookID := args[0]
	if chatOnce && chatQuery == "" {
		return fmt.Errorf("--once requires --query")
	}

	a, err := newApp(ctx, cfg, appOptions{llm: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	tb, err := a.store.GetTextbook(ctx, textbookID)
	if err != nil {
		return err
	}

	if chatOnce {
		resp, err := a.chat.Chat(ctx, chat.Request{Query: chatQuery, TextbookID: textbookID, SessionID: chatSession})
		if err != nil {
			return err
		}
		fmt.Println(resp.Response)
		if len(resp.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, s := range resp.Sources {
				fmt.Printf("  - %s (%.2f)\n", s.Title, s.RelevanceScore)
			}
		}
		fmt.Printf("\nsession: %s\n", resp.SessionID)
		return nil
	}

	// Log lines would tear the full-screen view.
	var sink io.Writer = io.Discard
	if chatLogFile != "" {
		f, err := os.OpenFile(chatLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		sink = f
	}
	prev := log.Logger
	log.Logger = log.Output(sink)
	defer func() { log.Logger = prev }()

	final, err := tea.NewProgram(tui.New(a.chat, tb.ID, tb.Title), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok && m.SessionID() != "" {
		fmt.Printf("session: %s\n", m.SessionID())
	}
	return nil
}
