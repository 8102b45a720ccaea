package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omar.ai/academic-chat/internal/store"
)

func newTestMerger(t *testing.T, gw *fakeGateway) (*Merger, *SessionService) {
	t.Helper()
	svc := newTestService(t, nil)
	return NewMerger(svc, gw, StringsFor("en")), svc
}

type recorder struct {
	mu     sync.Mutex
	states [][]store.Message
}

func (r *recorder) record(msgs []store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, msgs)
}

func modelText(msgs []store.Message) string {
	for _, m := range msgs {
		if m.Role == store.RoleModel {
			return m.Text
		}
	}
	return "<none>"
}

func TestMerger_FragmentsArriveInOrder(t *testing.T) {
	gw := &fakeGateway{fragments: []Fragment{{Text: "Hel"}, {Text: "lo"}}}
	merger, svc := newTestMerger(t, gw)
	id := svc.CurrentID()

	var rec recorder
	err := merger.Send(context.Background(), id, TurnInput{Text: "Say hello", Thinking: true}, rec.record)
	require.NoError(t, err)

	require.Len(t, rec.states, 4)
	assert.Len(t, rec.states[0], 1, "user message first")
	assert.Equal(t, "", modelText(rec.states[1]), "empty placeholder next")
	assert.Equal(t, "Hel", modelText(rec.states[2]))
	assert.Equal(t, "Hello", modelText(rec.states[3]))

	sess, _ := svc.Session(id)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, store.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "Hello", sess.Messages[1].Text)
	assert.True(t, sess.Messages[1].IsThinking)
	assert.Equal(t, "Say hello", sess.Title)
}

func TestMerger_DirectiveOnlyReachesTheModel(t *testing.T) {
	gw := &fakeGateway{fragments: []Fragment{{Text: "ok"}}}
	merger, svc := newTestMerger(t, gw)
	id := svc.CurrentID()
	_, err := svc.ReplaceMessages(id, []store.Message{
		{ID: "old-user", Role: store.RoleUser, Text: "earlier"},
		{ID: "old-model", Role: store.RoleModel, Text: "reply"},
	})
	require.NoError(t, err)

	directive, err := DirectiveFor(PresetSolve)
	require.NoError(t, err)

	in := TurnInput{Text: "2+2?", Directive: directive, WebSearch: true}
	require.NoError(t, merger.Send(context.Background(), id, in, nil))

	turns := gw.lastTurns()
	require.Len(t, turns, 3, "history plus the new turn, no placeholder")
	assert.Equal(t, "earlier", turns[0].Text)
	assert.Equal(t, store.RoleModel, turns[1].Role)
	assert.Equal(t, directive+"\n\n2+2?", turns[2].Text)
	assert.True(t, gw.opts.WebSearch)
	assert.False(t, gw.opts.Thinking)

	sess, _ := svc.Session(id)
	assert.Equal(t, "2+2?", sess.Messages[2].Text, "the directive is never shown")
}

func TestMerger_DirectiveWithoutText(t *testing.T) {
	gw := &fakeGateway{fragments: []Fragment{{Text: "summary"}}}
	merger, svc := newTestMerger(t, gw)
	id := svc.CurrentID()

	att := store.Attachment{MimeType: "video/mp4", Data: "AAAA", Name: "lecture.mp4"}
	in := TurnInput{Directive: "summarise", Attachments: []store.Attachment{att}}
	require.NoError(t, merger.Send(context.Background(), id, in, nil))

	sess, _ := svc.Session(id)
	assert.Equal(t, StringsFor("en").ProcessingText, sess.Messages[0].Text)
	assert.Equal(t, []store.Attachment{att}, sess.Messages[0].Attachments)

	turns := gw.lastTurns()
	assert.Equal(t, "summarise\n\n", turns[0].Text)
	assert.Equal(t, []store.Attachment{att}, turns[0].Attachments)
}

func TestMerger_StreamFailureShowsFixedError(t *testing.T) {
	gw := &fakeGateway{fragments: []Fragment{
		{Text: "partial"},
		{Err: errors.New("boom")},
		{Text: "never"},
	}}
	merger, svc := newTestMerger(t, gw)
	id := svc.CurrentID()

	var rec recorder
	require.NoError(t, merger.Send(context.Background(), id, TurnInput{Text: "q"}, rec.record))

	last := rec.states[len(rec.states)-1]
	assert.Equal(t, StringsFor("en").StreamError, modelText(last))
	assert.Len(t, rec.states, 4)
	assert.False(t, merger.InFlight(id))
}

func TestMerger_RejectsEmptyTurn(t *testing.T) {
	gw := &fakeGateway{}
	merger, svc := newTestMerger(t, gw)

	err := merger.Send(context.Background(), svc.CurrentID(), TurnInput{Text: "   "}, nil)
	assert.ErrorIs(t, err, ErrEmptyTurn)
	assert.Zero(t, gw.calls)
}

func TestMerger_UnknownSession(t *testing.T) {
	merger, _ := newTestMerger(t, &fakeGateway{})
	err := merger.Send(context.Background(), "missing", TurnInput{Text: "hi"}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMerger_OneTurnPerSession(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{fragments: []Fragment{{Text: "a"}}, release: release}
	merger, svc := newTestMerger(t, gw)
	id := svc.CurrentID()

	done := make(chan error, 1)
	go func() {
		done <- merger.Send(context.Background(), id, TurnInput{Text: "first"}, nil)
	}()

	require.Eventually(t, func() bool { return merger.InFlight(id) }, time.Second, 5*time.Millisecond)
	err := merger.Send(context.Background(), id, TurnInput{Text: "second"}, nil)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	other := svc.CreateSession().ID
	close(release)
	require.NoError(t, <-done)
	require.NoError(t, merger.Send(context.Background(), other, TurnInput{Text: "parallel"}, nil))
}
