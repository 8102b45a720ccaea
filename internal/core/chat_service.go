package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"omar.ai/academic-chat/internal/store"
)

// MessageSink is where a turn publishes the session's message list.
type MessageSink interface {
	UpdateMessages(sessionID string, fn func([]store.Message) []store.Message) (store.ChatSession, error)
}

// TurnInput is one user submission. Directive is sent to the model ahead of
// Text but never shown.
type TurnInput struct {
	Text        string
	Attachments []store.Attachment
	Directive   string
	Thinking    bool
	WebSearch   bool
}

func (in TurnInput) empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 && in.Directive == ""
}

// Merger drives a turn: it appends the user message and a model placeholder,
// then folds streamed fragments into the placeholder one at a time.
type Merger struct {
	sink    MessageSink
	gateway Gateway
	strings Strings

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewMerger(sink MessageSink, gateway Gateway, strs Strings) *Merger {
	return &Merger{
		sink:     sink,
		gateway:  gateway,
		strings:  strs,
		inFlight: make(map[string]bool),
	}
}

// Send runs one turn to completion. onUpdate, when set, receives the full
// message list after every published change, in order. A gateway failure is
// not returned: it becomes the model message text.
func (m *Merger) Send(ctx context.Context, sessionID string, in TurnInput, onUpdate func([]store.Message)) error {
	if in.empty() {
		return ErrEmptyTurn
	}
	if !m.begin(sessionID) {
		return fmt.Errorf("%w: %s", ErrTurnInFlight, sessionID)
	}
	defer m.end(sessionID)

	visible := in.Text
	if visible == "" && in.Directive != "" {
		visible = m.strings.ProcessingText
	}
	userMsg := store.Message{
		ID:          uuid.NewString(),
		Role:        store.RoleUser,
		Text:        visible,
		Attachments: in.Attachments,
	}

	var apiView []store.Message
	sess, err := m.sink.UpdateMessages(sessionID, func(msgs []store.Message) []store.Message {
		apiUser := userMsg
		apiUser.Text = apiText(in.Directive, in.Text)
		apiView = append(store.CloneMessages(msgs), apiUser)
		return append(msgs, userMsg)
	})
	if err != nil {
		return err
	}
	notify(onUpdate, sess)

	botMsgID := uuid.NewString()
	sess, err = m.sink.UpdateMessages(sessionID, func(msgs []store.Message) []store.Message {
		return append(msgs, store.Message{
			ID:         botMsgID,
			Role:       store.RoleModel,
			IsThinking: in.Thinking,
		})
	})
	if err != nil {
		return err
	}
	notify(onUpdate, sess)

	fragments := m.gateway.StreamResponse(ctx, turnsFromMessages(apiView), StreamOptions{
		Thinking:  in.Thinking,
		WebSearch: in.WebSearch,
	})

	var acc strings.Builder
	for frag := range fragments {
		text := m.strings.StreamError
		if frag.Err != nil {
			log.Error("Completion stream failed", "session", sessionID, "err", frag.Err)
		} else {
			acc.WriteString(frag.Text)
			text = acc.String()
		}

		sess, err = m.sink.UpdateMessages(sessionID, setMessageText(botMsgID, text))
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				log.Warn("Session vanished while streaming", "session", sessionID)
			}
			drain(fragments)
			return err
		}
		notify(onUpdate, sess)

		if frag.Err != nil {
			drain(fragments)
			return nil
		}
	}
	return nil
}

// InFlight reports whether a turn is streaming for the session.
func (m *Merger) InFlight(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[sessionID]
}

func (m *Merger) begin(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[sessionID] {
		return false
	}
	m.inFlight[sessionID] = true
	return true
}

func (m *Merger) end(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, sessionID)
}

// setMessageText sets the text of message id, appending nothing if the
// message has since been dropped.
func setMessageText(id, text string) func([]store.Message) []store.Message {
	return func(msgs []store.Message) []store.Message {
		for i := range msgs {
			if msgs[i].ID == id {
				msgs[i].Text = text
				break
			}
		}
		return msgs
	}
}

func notify(onUpdate func([]store.Message), sess store.ChatSession) {
	if onUpdate != nil {
		onUpdate(sess.Messages)
	}
}

func drain(ch <-chan Fragment) {
	go func() {
		for range ch {
		}
	}()
}
