package core

import (
	"context"

	"omar.ai/academic-chat/internal/store"
)

// Turn is one entry of the conversation as sent to the model.
type Turn struct {
	Role        store.Role
	Text        string
	Attachments []store.Attachment
}

type StreamOptions struct {
	Thinking  bool
	WebSearch bool
}

// Fragment is one piece of streamed model output. A fragment with a non-nil
// Err is always the last one sent.
type Fragment struct {
	Text string
	Err  error
}

// Gateway is the boundary to the hosted model service.
type Gateway interface {
	// StreamResponse produces fragments in arrival order and closes the
	// channel when the stream ends. The channel is unbuffered, so the
	// producer waits for the consumer.
	StreamResponse(ctx context.Context, turns []Turn, opts StreamOptions) <-chan Fragment
	// GenerateSpeech returns raw 16-bit mono PCM.
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)
	TranscribeAudio(ctx context.Context, audio []byte) (string, error)
}

func turnsFromMessages(msgs []store.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Text: m.Text, Attachments: m.Attachments})
	}
	return turns
}
