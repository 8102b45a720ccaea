package core

import (
	"context"
	"sync"
)

// fakeGateway streams a fixed script of fragments and records what it was
// asked.
type fakeGateway struct {
	mu        sync.Mutex
	fragments []Fragment
	turns     []Turn
	opts      StreamOptions
	calls     int

	// release, when set, is waited on before the first fragment.
	release chan struct{}

	speech     []byte
	speechErr  error
	transcript string
}

func (g *fakeGateway) StreamResponse(ctx context.Context, turns []Turn, opts StreamOptions) <-chan Fragment {
	g.mu.Lock()
	g.turns = turns
	g.opts = opts
	g.calls++
	script := append([]Fragment(nil), g.fragments...)
	release := g.release
	g.mu.Unlock()

	out := make(chan Fragment)
	go func() {
		defer close(out)
		if release != nil {
			<-release
		}
		for _, f := range script {
			if !send(ctx, out, f) {
				return
			}
		}
	}()
	return out
}

func (g *fakeGateway) GenerateSpeech(context.Context, string) ([]byte, error) {
	return g.speech, g.speechErr
}

func (g *fakeGateway) TranscribeAudio(context.Context, []byte) (string, error) {
	return g.transcript, nil
}

func (g *fakeGateway) lastTurns() []Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turns
}
