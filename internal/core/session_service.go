package core

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"omar.ai/academic-chat/internal/store"
)

const (
	titleMaxRunes  = 35
	titleEllipsis  = "..."
	persistTimeout = 30 * time.Second
)

// SessionService owns the ordered session collection, newest first, and the
// current selection. Every committed change is persisted through the codec
// on a background worker and published to subscribers.
type SessionService struct {
	mu        sync.Mutex
	sessions  []store.ChatSession
	currentID string

	strings Strings
	codec   *store.Codec
	now     func() time.Time

	subMu   sync.Mutex
	subs    map[int]func([]store.ChatSession)
	nextSub int

	// seq stamps snapshots in commit order under mu. pubMu serializes
	// delivery so subscribers never see an older snapshot after a newer one.
	seq       uint64
	pubMu     sync.Mutex
	published uint64

	persist *persister
}

// NewSessionService loads the persisted collection and starts the
// persistence worker. Call Close to stop it.
func NewSessionService(codec *store.Codec, strs Strings) *SessionService {
	s := &SessionService{
		strings: strs,
		codec:   codec,
		now:     time.Now,
		subs:    make(map[int]func([]store.ChatSession)),
	}
	s.persist = newPersister(s.save)

	s.mu.Lock()
	s.sessions = codec.Load(context.Background())
	log.Debug("Loaded sessions from storage", "count", len(s.sessions))
	if s.healLocked() {
		s.commitLocked()
	}
	s.mu.Unlock()

	return s
}

func (s *SessionService) Close() {
	s.persist.close()
}

// Flush blocks until every queued save has run.
func (s *SessionService) Flush() {
	s.persist.flush()
}

// Subscribe registers fn to receive a copy of the collection after every
// change, in commit order. fn must not mutate the store. The returned func
// unregisters it.
func (s *SessionService) Subscribe(fn func([]store.ChatSession)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *SessionService) Sessions() []store.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.CloneSessions(s.sessions)
}

func (s *SessionService) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *SessionService) Current() (store.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(s.currentID); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return store.ChatSession{}, false
}

func (s *SessionService) Session(id string) (store.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return store.ChatSession{}, false
}

// CreateSession inserts a fresh session at the front and selects it.
func (s *SessionService) CreateSession() store.ChatSession {
	s.mu.Lock()
	created := s.createLocked()
	s.healLocked()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return created.Clone()
}

// SelectSession is a no-op for unknown ids.
func (s *SessionService) SelectSession(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return false
	}
	s.currentID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// DeleteSession removes the session. A deleted selection falls back to the
// new front of the collection.
func (s *SessionService) DeleteSession(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
	if s.currentID == id {
		s.currentID = ""
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[0].ID
		}
	}
	s.healLocked()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// ReplaceMessages sets the full message list of a session.
func (s *SessionService) ReplaceMessages(sessionID string, msgs []store.Message) (store.ChatSession, error) {
	replacement := store.CloneMessages(msgs)
	return s.UpdateMessages(sessionID, func([]store.Message) []store.Message {
		return replacement
	})
}

// UpdateMessages replaces a session's messages with fn's result under the
// store lock, so concurrent updates never lose each other. fn receives a
// copy it may modify.
func (s *SessionService) UpdateMessages(sessionID string, fn func([]store.Message) []store.Message) (store.ChatSession, error) {
	s.mu.Lock()
	i := s.indexLocked(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return store.ChatSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	sess := &s.sessions[i]
	msgs := fn(store.CloneMessages(sess.Messages))
	if msgs == nil {
		msgs = []store.Message{}
	}
	if isPlaceholderTitle(sess.Title) && len(msgs) > 0 {
		sess.Title = titleFrom(msgs[0].Text)
	}
	sess.Messages = msgs
	sess.UpdatedAt = s.now()
	updated := sess.Clone()

	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return updated, nil
}

func (s *SessionService) createLocked() store.ChatSession {
	sess := store.ChatSession{
		ID:        uuid.NewString(),
		Title:     s.strings.PlaceholderTitle,
		Messages:  []store.Message{},
		UpdatedAt: s.now(),
	}
	s.sessions = append([]store.ChatSession{sess}, s.sessions...)
	s.currentID = sess.ID
	return sess
}

// healLocked keeps the collection non-empty with a valid selection. It
// reports whether it changed anything.
func (s *SessionService) healLocked() bool {
	if len(s.sessions) == 0 {
		s.createLocked()
		return true
	}
	if s.indexLocked(s.currentID) < 0 {
		s.currentID = s.sessions[0].ID
		return true
	}
	return false
}

func (s *SessionService) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshot is a copy of the collection stamped with its commit order.
type snapshot struct {
	seq      uint64
	sessions []store.ChatSession
}

func (s *SessionService) snapshotLocked() snapshot {
	s.seq++
	return snapshot{seq: s.seq, sessions: store.CloneSessions(s.sessions)}
}

// commitLocked queues a save of the current collection and returns the
// snapshot to publish once the lock is released.
func (s *SessionService) commitLocked() snapshot {
	snap := s.snapshotLocked()
	s.persist.enqueue(snap.sessions)
	return snap
}

// publish delivers snap unless a newer snapshot already went out.
func (s *SessionService) publish(snap snapshot) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snap.seq <= s.published {
		return
	}
	s.published = snap.seq

	s.subMu.Lock()
	subs := make([]func([]store.ChatSession), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(store.CloneSessions(snap.sessions))
	}
}

// save runs on the persistence worker.
func (s *SessionService) save(snap []store.ChatSession) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	res := s.codec.Save(ctx, snap)
	if !res.OK {
		log.Error("Failed to persist sessions", "attempts", res.Attempts, "steps", len(res.Steps))
		return
	}
	if res.Degraded() {
		log.Warn("Persisted a reduced session history", "steps", res.Steps)
		s.reconcile(snap, res.Persisted)
	}
}

// reconcile applies to the live collection whatever the codec dropped from
// before to produce after. Data added since the snapshot is kept.
func (s *SessionService) reconcile(before, after []store.ChatSession) {
	afterByID := make(map[string]store.ChatSession, len(after))
	for _, sess := range after {
		afterByID[sess.ID] = sess
	}
	beforeByID := make(map[string]store.ChatSession, len(before))
	for _, sess := range before {
		beforeByID[sess.ID] = sess
	}

	s.mu.Lock()
	changed := false
	kept := s.sessions[:0:0]
	for _, live := range s.sessions {
		old, wasSaved := beforeByID[live.ID]
		reduced, survived := afterByID[live.ID]
		if wasSaved && !survived {
			changed = true
			continue
		}
		if wasSaved {
			var msgChanged bool
			live.Messages, msgChanged = reconcileMessages(live.Messages, old.Messages, reduced.Messages)
			changed = changed || msgChanged
		}
		kept = append(kept, live)
	}
	if !changed {
		s.mu.Unlock()
		return
	}

	s.sessions = kept
	s.healLocked()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func reconcileMessages(live, before, after []store.Message) ([]store.Message, bool) {
	inBefore := make(map[string]bool, len(before))
	for _, m := range before {
		inBefore[m.ID] = true
	}
	afterByID := make(map[string]store.Message, len(after))
	for _, m := range after {
		afterByID[m.ID] = m
	}

	changed := false
	out := make([]store.Message, 0, len(live))
	for _, m := range live {
		reduced, survived := afterByID[m.ID]
		if inBefore[m.ID] && !survived {
			changed = true
			continue
		}
		if survived && !reduced.HasAttachments() && m.HasAttachments() {
			m.Attachments = nil
			changed = true
		}
		out = append(out, m)
	}
	return out, changed
}

func titleFrom(text string) string {
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

// persister runs saves one at a time, in commit order, off the caller's
// goroutine. The queue is unbounded so committing never blocks.
type persister struct {
	save func([]store.ChatSession)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]store.ChatSession
	enqueued uint64
	saved    uint64
	closed   bool
	stopped  chan struct{}
}

func newPersister(save func([]store.ChatSession)) *persister {
	p := &persister{
		save:    save,
		stopped: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *persister) enqueue(snap []store.ChatSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, snap)
	p.enqueued++
	p.cond.Broadcast()
}

func (p *persister) run() {
	defer close(p.stopped)
	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		snap := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.save(snap)

		p.mu.Lock()
		p.saved++
		p.cond.Broadcast()
	}
}

// flush waits for every save enqueued before the call.
func (p *persister) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.enqueued
	for p.saved < target {
		p.cond.Wait()
	}
}

// close drains the queue and stops the worker.
func (p *persister) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.stopped
}
