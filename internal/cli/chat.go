package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"omar.ai/academic-chat/internal/config"
	"omar.ai/academic-chat/internal/core"
	"omar.ai/academic-chat/internal/store"
	"omar.ai/academic-chat/internal/utils"
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	modelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const chatHelp = `/new                 start a new session
/list                list sessions
/select N            switch to session N from /list
/delete              delete the current session
/attach PATH         attach a file to the next message
/solve TEXT          ask with the academic solver preset
/lecture PATH        summarise a lecture recording
/audit               audit the current conversation
/think on|off        toggle extended thinking
/search on|off       toggle web search
/speak OUT.wav       read the last answer aloud into a file
/transcribe PATH     transcribe audio and send it
/quit                exit`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Ctrl+C ends the loop so the deferred close drains pending saves.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gateway, err := newGateway(ctx)
		if err != nil {
			return err
		}

		sessions, closeSessions, err := openSessions()
		if err != nil {
			return err
		}
		defer closeSessions()

		r := newREPL(os.Stdin, cmd.OutOrStdout(), sessions, gateway, core.StringsFor(config.AppConfig.Locale))
		return r.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

var errQuit = errors.New("quit")

// repl is a line-oriented chat loop over the session store.
type repl struct {
	in       io.Reader
	out      io.Writer
	sessions *core.SessionService
	merger   *core.Merger
	gateway  core.Gateway
	strings  core.Strings

	thinking  bool
	webSearch bool
	pending   []store.Attachment
}

func newREPL(in io.Reader, out io.Writer, sessions *core.SessionService, gateway core.Gateway, strs core.Strings) *repl {
	return &repl{
		in:       in,
		out:      out,
		sessions: sessions,
		merger:   core.NewMerger(sessions, gateway, strs),
		gateway:  gateway,
		strings:  strs,
		thinking: true,
	}
}

// run reads lines until input ends, /quit, or ctx is cancelled.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, noticeStyle.Render("Type a message, or /help for commands."))

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(r.out, promptStyle.Render("> "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if err := r.handle(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			if ctx.Err() != nil {
				fmt.Fprintln(r.out)
				return nil
			}
			fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, core.TurnInput{Text: line})
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		sess := r.sessions.CreateSession()
		r.notice("Started %s", sess.Title)
	case "/list":
		r.list()
	case "/select":
		return r.selectByIndex(arg)
	case "/delete":
		if err := r.sessions.DeleteSession(r.sessions.CurrentID()); err != nil {
			return err
		}
		r.notice("Session deleted")
	case "/attach":
		if arg == "" {
			return errors.New("usage: /attach PATH")
		}
		att, err := utils.EncodeFile(arg)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, att)
		r.notice("Attached %s (%s)", att.Name, att.MimeType)
	case "/solve":
		directive, _ := core.DirectiveFor(core.PresetSolve)
		return r.send(ctx, core.TurnInput{Text: arg, Directive: directive})
	case "/audit":
		directive, _ := core.DirectiveFor(core.PresetAudit)
		return r.send(ctx, core.TurnInput{Text: arg, Directive: directive})
	case "/lecture":
		if arg == "" {
			return errors.New("usage: /lecture PATH")
		}
		att, err := utils.EncodeFile(arg)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, att)
		directive, _ := core.DirectiveFor(core.PresetLecture)
		return r.send(ctx, core.TurnInput{Text: r.strings.LectureText, Directive: directive})
	case "/think":
		on, err := parseToggle(arg)
		if err != nil {
			return err
		}
		r.thinking = on
		r.notice("Thinking %s", arg)
	case "/search":
		on, err := parseToggle(arg)
		if err != nil {
			return err
		}
		r.webSearch = on
		r.notice("Web search %s", arg)
	case "/speak":
		return r.speak(ctx, arg)
	case "/transcribe":
		return r.transcribe(ctx, arg)
	default:
		return fmt.Errorf("unknown command %s, try /help", command)
	}
	return nil
}

// send runs one turn and prints the model text as it grows.
func (r *repl) send(ctx context.Context, in core.TurnInput) error {
	in.Attachments = append(in.Attachments, r.pending...)
	in.Thinking = r.thinking
	in.WebSearch = r.webSearch

	var shown string
	started := false
	onUpdate := func(msgs []store.Message) {
		if len(msgs) == 0 || msgs[len(msgs)-1].Role != store.RoleModel {
			return
		}
		if !started {
			fmt.Fprint(r.out, modelStyle.Render("omar: "))
			started = true
		}
		text := msgs[len(msgs)-1].Text
		if strings.HasPrefix(text, shown) {
			fmt.Fprint(r.out, text[len(shown):])
		} else {
			fmt.Fprint(r.out, "\n"+errorStyle.Render(text))
		}
		shown = text
	}

	if err := r.merger.Send(ctx, r.sessions.CurrentID(), in, onUpdate); err != nil {
		return err
	}
	r.pending = nil
	fmt.Fprintln(r.out)
	return nil
}

func (r *repl) list() {
	current := r.sessions.CurrentID()
	for i, sess := range r.sessions.Sessions() {
		marker := " "
		if sess.ID == current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s %s\n", marker, i+1, sess.Title,
			noticeStyle.Render(fmt.Sprintf("(%d messages)", len(sess.Messages))))
	}
}

func (r *repl) selectByIndex(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return errors.New("usage: /select N")
	}
	sessions := r.sessions.Sessions()
	if n < 1 || n > len(sessions) {
		return fmt.Errorf("no session %d", n)
	}
	r.sessions.SelectSession(sessions[n-1].ID)
	r.notice("Switched to %s", sessions[n-1].Title)
	return nil
}

func (r *repl) speak(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /speak OUT.wav")
	}
	sess, ok := r.sessions.Current()
	if !ok {
		return core.ErrSessionNotFound
	}
	var text string
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == store.RoleModel && sess.Messages[i].Text != "" {
			text = sess.Messages[i].Text
			break
		}
	}
	if text == "" {
		return errors.New("nothing to read yet")
	}

	pcm, err := r.gateway.GenerateSpeech(ctx, text)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, utils.WrapPCM(pcm, utils.SpeechSampleRate, 1), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.notice("Wrote %s", path)
	return nil
}

func (r *repl) transcribe(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /transcribe PATH")
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	text, err := r.gateway.TranscribeAudio(ctx, audio)
	if err != nil {
		return err
	}
	r.notice("Heard: %s", text)
	return r.send(ctx, core.TurnInput{Text: text})
}

func (r *repl) notice(format string, args ...any) {
	fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func parseToggle(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", arg)
	}
}
