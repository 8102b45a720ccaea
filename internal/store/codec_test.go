package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test_sessions"

func newTestSession(id string, msgs ...Message) ChatSession {
	return ChatSession{
		ID:        id,
		Title:     "session " + id,
		Messages:  msgs,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func textMessage(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Text: text}
}

func attachmentMessage(id string, size int) Message {
	return Message{
		ID:   id,
		Role: RoleUser,
		Text: "see attached " + id,
		Attachments: []Attachment{{
			MimeType: "image/png",
			Data:     strings.Repeat("A", size),
			Name:     id + ".png",
		}},
	}
}

// slotSize is what a KVStore charges for holding sessions under testKey.
func slotSize(t *testing.T, sessions []ChatSession) int {
	t.Helper()
	payload, err := json.Marshal(sessions)
	require.NoError(t, err)
	return len(testKey) + len(payload)
}

func TestCodec_SaveFits(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(0)
	codec := NewCodec(kv, testKey)

	sessions := []ChatSession{
		newTestSession("b", textMessage("m2", "hello")),
		newTestSession("a"),
	}

	res := codec.Save(ctx, sessions)
	require.True(t, res.OK)
	assert.Empty(t, res.Steps)
	assert.False(t, res.Degraded())
	assert.Equal(t, 1, res.Attempts)

	loaded := codec.Load(ctx)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b", loaded[0].ID)
	assert.Equal(t, "hello", loaded[0].Messages[0].Text)
	assert.True(t, sessions[0].UpdatedAt.Equal(loaded[0].UpdatedAt))
}

func TestCodec_DropsOldestSessionsFirst(t *testing.T) {
	ctx := context.Background()
	sessions := []ChatSession{
		newTestSession("newest", textMessage("m3", strings.Repeat("n", 100))),
		newTestSession("middle", textMessage("m2", strings.Repeat("m", 100))),
		newTestSession("oldest", textMessage("m1", strings.Repeat("o", 100))),
	}
	kv := NewMemoryKV(slotSize(t, sessions[:1]))
	codec := NewCodec(kv, testKey)

	res := codec.Save(ctx, sessions)
	require.True(t, res.OK)
	assert.Equal(t, []DegradeState{DroppingSession, DroppingSession}, res.Steps)
	require.Len(t, res.Persisted, 1)
	assert.Equal(t, "newest", res.Persisted[0].ID)
	assert.Len(t, sessions, 3, "input must not be modified")
}

func TestCodec_StripsAttachmentsBeforeTruncating(t *testing.T) {
	ctx := context.Background()

	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, attachmentMessage(fmt.Sprintf("m%d", i), 400))
	}
	sessions := []ChatSession{newTestSession("only", msgs...)}

	stripped := ApplyDegrade(StrippingAttachments, sessions)
	kv := NewMemoryKV(slotSize(t, stripped))
	codec := NewCodec(kv, testKey)

	res := codec.Save(ctx, sessions)
	require.True(t, res.OK)
	assert.Equal(t, []DegradeState{StrippingAttachments}, res.Steps)

	kept := res.Persisted[0].Messages
	require.Len(t, kept, 10, "message count is untouched when stripping is enough")
	for _, m := range kept[:9] {
		assert.False(t, m.HasAttachments(), "message %s kept attachments", m.ID)
	}
	assert.True(t, kept[9].HasAttachments(), "the newest message keeps its attachments")
}

func TestCodec_TruncatesWhenStrippingIsNotEnough(t *testing.T) {
	ctx := context.Background()

	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, attachmentMessage(fmt.Sprintf("m%d", i), 400))
	}
	sessions := []ChatSession{newTestSession("only", msgs...)}

	truncated := ApplyDegrade(TruncatingMessages, ApplyDegrade(StrippingAttachments, sessions))
	kv := NewMemoryKV(slotSize(t, truncated))
	codec := NewCodec(kv, testKey)

	res := codec.Save(ctx, sessions)
	require.True(t, res.OK)
	assert.Equal(t, []DegradeState{StrippingAttachments, TruncatingMessages}, res.Steps)

	kept := res.Persisted[0].Messages
	require.Len(t, kept, 3)
	assert.Equal(t, []string{"m7", "m8", "m9"}, []string{kept[0].ID, kept[1].ID, kept[2].ID})
	assert.True(t, kept[2].HasAttachments())
}

func TestCodec_SingleOversizedMessageClearsStore(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(200)
	codec := NewCodec(kv, testKey)

	require.NoError(t, kv.Set(ctx, testKey, "[]"))

	sessions := []ChatSession{newTestSession("only", attachmentMessage("video", 5000))}
	res := codec.Save(ctx, sessions)

	assert.False(t, res.OK)
	assert.Equal(t, []DegradeState{Exhausted}, res.Steps)
	_, ok, err := kv.Get(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok, "store is cleared as a last resort")
}

func TestCodec_UnexpectedErrorAborts(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(0)
	codec := NewCodec(kv, testKey)
	require.NoError(t, kv.Set(ctx, testKey, "[]"))

	kv.FailWith(errors.New("disk on fire"))
	res := codec.Save(ctx, []ChatSession{newTestSession("a"), newTestSession("b")})

	assert.False(t, res.OK)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Steps)
	_, ok, _ := kv.Get(ctx, testKey)
	assert.False(t, ok)
}

func TestCodec_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	var sessions []ChatSession
	for i := 0; i < 8; i++ {
		sessions = append(sessions, newTestSession(fmt.Sprintf("s%d", i), textMessage("m", strings.Repeat("x", 50))))
	}
	kv := NewMemoryKV(10)
	codec := NewCodec(kv, testKey)

	res := codec.Save(ctx, sessions)
	assert.False(t, res.OK)
	assert.Equal(t, DefaultMaxAttempts, res.Attempts)
	assert.Len(t, res.Steps, DefaultMaxAttempts-1)
}

func TestCodec_LoadMissingOrCorrupt(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(0)
	codec := NewCodec(kv, testKey)

	assert.Empty(t, codec.Load(ctx))

	require.NoError(t, kv.Set(ctx, testKey, "{not json"))
	loaded := codec.Load(ctx)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)

	require.NoError(t, kv.Set(ctx, testKey, "null"))
	assert.NotNil(t, codec.Load(ctx))
}
