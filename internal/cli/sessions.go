package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"omar.ai/academic-chat/internal/core"
	"omar.ai/academic-chat/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

var exportFormat string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadSessions(cmd.Context())
		if err != nil {
			return err
		}

		// The newest session is the one a fresh start selects.
		var currentID string
		if len(sessions) > 0 {
			currentID = sessions[0].ID
		}
		displaySessions(cmd.OutOrStdout(), sessions, currentID, time.Now())
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export [ID]",
	Short: "Write saved sessions to stdout",
	Long: `Write saved sessions to stdout as JSON or YAML.

Without an ID every session is exported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadSessions(cmd.Context())
		if err != nil {
			return err
		}

		if len(args) == 1 {
			sess, ok := findSession(sessions, args[0])
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrSessionNotFound, args[0])
			}
			sessions = []store.ChatSession{sess}
		}
		return writeExport(cmd.OutOrStdout(), sessions, exportFormat)
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json or yaml")
}

func findSession(sessions []store.ChatSession, id string) (store.ChatSession, bool) {
	for _, sess := range sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return store.ChatSession{}, false
}

// exportMessage leaves attachment payloads out of exports.
type exportMessage struct {
	ID          string   `json:"id" yaml:"id"`
	Role        string   `json:"role" yaml:"role"`
	Text        string   `json:"text" yaml:"text"`
	Attachments []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

type exportSession struct {
	ID        string          `json:"id" yaml:"id"`
	Title     string          `json:"title" yaml:"title"`
	UpdatedAt time.Time       `json:"updatedAt" yaml:"updatedAt"`
	Messages  []exportMessage `json:"messages" yaml:"messages"`
}

func toExport(sessions []store.ChatSession) []exportSession {
	out := make([]exportSession, 0, len(sessions))
	for _, sess := range sessions {
		es := exportSession{
			ID:        sess.ID,
			Title:     sess.Title,
			UpdatedAt: sess.UpdatedAt,
			Messages:  make([]exportMessage, 0, len(sess.Messages)),
		}
		for _, m := range sess.Messages {
			em := exportMessage{ID: m.ID, Role: string(m.Role), Text: m.Text}
			for _, att := range m.Attachments {
				label := att.MimeType
				if att.Name != "" {
					label = att.Name + " (" + att.MimeType + ")"
				}
				em.Attachments = append(em.Attachments, label)
			}
			es.Messages = append(es.Messages, em)
		}
		out = append(out, es)
	}
	return out
}

func writeExport(w io.Writer, sessions []store.ChatSession, format string) error {
	data := toExport(sessions)
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", format)
	}
}

func displaySessions(w io.Writer, sessions []store.ChatSession, currentID string, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(sessions))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Updated")+"\t")

	for _, sess := range sessions {
		shortID := sess.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		marker := "  "
		if sess.ID == currentID {
			marker = "* "
		}

		title := sess.Title
		if utf8.RuneCountInString(title) > 40 {
			title = string([]rune(title)[:37]) + "..."
		}

		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t\n",
			marker,
			idStyle.Render(shortID),
			title,
			countStyle.Render(strconv.Itoa(len(sess.Messages))),
			dateStyle.Render(formatUpdated(sess.UpdatedAt, now)),
		)
	}
	tw.Flush()
}

func formatUpdated(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}
