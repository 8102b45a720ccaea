package core

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"omar.ai/academic-chat/internal/store"
)

type fakeModels struct {
	chunks    []string
	streamErr error

	resp *genai.GenerateContentResponse
	err  error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func (f *fakeModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model, f.contents, f.config = model, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range f.chunks {
			if !yield(textResponse(c), nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func collect(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestLLMService_StreamResponse(t *testing.T) {
	models := &fakeModels{chunks: []string{"Hel", "lo"}}
	svc := newLLMService(models, LLMConfig{})

	data := []byte{1, 2, 3}
	turns := []Turn{
		{Role: store.RoleUser, Text: "look", Attachments: []store.Attachment{{
			MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(data),
		}}},
		{Role: store.RoleModel, Text: "seen"},
		{Role: store.RoleUser, Text: "again", Attachments: []store.Attachment{{MimeType: "image/png", Data: "%%%"}}},
	}

	frags := collect(svc.StreamResponse(context.Background(), turns, StreamOptions{Thinking: true, WebSearch: true}))
	require.Len(t, frags, 2)
	assert.Equal(t, "Hel", frags[0].Text)
	assert.Equal(t, "lo", frags[1].Text)

	assert.Equal(t, defaultChatModelName, models.model)
	require.Len(t, models.contents, 3)
	assert.Equal(t, "user", models.contents[0].Role)
	assert.Equal(t, "model", models.contents[1].Role)
	require.Len(t, models.contents[0].Parts, 2)
	assert.Equal(t, data, models.contents[0].Parts[1].InlineData.Data)
	assert.Len(t, models.contents[2].Parts, 1, "undecodable attachment is skipped")

	require.NotNil(t, models.config.ThinkingConfig)
	assert.Equal(t, int32(defaultThinkingBudget), *models.config.ThinkingConfig.ThinkingBudget)
	require.Len(t, models.config.Tools, 1)
	assert.NotNil(t, models.config.Tools[0].GoogleSearch)
}

func TestLLMService_StreamOptionsOff(t *testing.T) {
	models := &fakeModels{chunks: []string{"x"}}
	svc := newLLMService(models, LLMConfig{ChatModel: "custom"})

	collect(svc.StreamResponse(context.Background(), []Turn{{Role: store.RoleUser, Text: "q"}}, StreamOptions{}))
	assert.Equal(t, "custom", models.model)
	assert.Nil(t, models.config.ThinkingConfig)
	assert.Empty(t, models.config.Tools)
}

func TestLLMService_StreamError(t *testing.T) {
	models := &fakeModels{chunks: []string{"part"}, streamErr: errors.New("quota")}
	svc := newLLMService(models, LLMConfig{})

	frags := collect(svc.StreamResponse(context.Background(), []Turn{{Role: store.RoleUser, Text: "q"}}, StreamOptions{}))
	require.Len(t, frags, 2)
	assert.Equal(t, "part", frags[0].Text)
	assert.ErrorIs(t, frags[1].Err, ErrGateway)
}

func TestLLMService_EmptyHistory(t *testing.T) {
	svc := newLLMService(&fakeModels{}, LLMConfig{})
	frags := collect(svc.StreamResponse(context.Background(), nil, StreamOptions{}))
	require.Len(t, frags, 1)
	assert.ErrorIs(t, frags[0].Err, ErrGateway)
}

func TestLLMService_GenerateSpeech(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	models := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: pcm}},
		}}}},
	}}
	svc := newLLMService(models, LLMConfig{Voice: "Puck"})

	audio, err := svc.GenerateSpeech(context.Background(), "read me")
	require.NoError(t, err)
	assert.Equal(t, pcm, audio)
	assert.Equal(t, defaultSpeechModelName, models.model)
	assert.Equal(t, "Puck", models.config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Len(t, models.config.ResponseModalities, 1)
}

func TestLLMService_GenerateSpeechFailures(t *testing.T) {
	svc := newLLMService(&fakeModels{err: errors.New("down")}, LLMConfig{})
	_, err := svc.GenerateSpeech(context.Background(), "x")
	assert.ErrorIs(t, err, ErrGateway)

	svc = newLLMService(&fakeModels{resp: textResponse("no audio")}, LLMConfig{})
	_, err = svc.GenerateSpeech(context.Background(), "x")
	assert.ErrorIs(t, err, ErrGateway)
}

func TestLLMService_TranscribeAudio(t *testing.T) {
	models := &fakeModels{resp: textResponse("the lecture starts")}
	svc := newLLMService(models, LLMConfig{})

	text, err := svc.TranscribeAudio(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "the lecture starts", text)
	assert.Equal(t, defaultTranscribeModelName, models.model)

	parts := models.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, transcribePrompt, parts[0].Text)
	assert.Equal(t, transcribeMimeType, parts[1].InlineData.MIMEType)
}

func TestBuildContents_Roles(t *testing.T) {
	contents := buildContents([]Turn{
		{Role: store.RoleUser, Text: "q"},
		{Role: store.RoleModel, Text: "a"},
	})
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
}
