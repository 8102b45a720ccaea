package core

import (
	"context"
	"fmt"
	"iter"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"omar.ai/academic-chat/internal/store"
	"omar.ai/academic-chat/internal/utils"
)

const (
	defaultChatModelName       = "gemini-3-pro-preview"
	defaultSpeechModelName     = "gemini-2.5-flash-preview-tts"
	defaultTranscribeModelName = "gemini-3-flash-preview"
	defaultVoiceName           = "Kore"
	defaultThinkingBudget      = 32768

	transcribePrompt   = "Transcribe this audio precisely for study notes."
	transcribeMimeType = "audio/wav"
)

// LLMConfig selects models for the Gemini gateway. Zero fields use defaults.
type LLMConfig struct {
	APIKey          string
	ChatModel       string
	SpeechModel     string
	TranscribeModel string
	Voice           string
	ThinkingBudget  int
}

// modelsAPI is the part of *genai.Models the service uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// LLMService implements Gateway on the Gemini API.
type LLMService struct {
	models modelsAPI
	cfg    LLMConfig
}

func NewLLMService(ctx context.Context, cfg LLMConfig) (*LLMService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newLLMService(client.Models, cfg), nil
}

func newLLMService(models modelsAPI, cfg LLMConfig) *LLMService {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModelName
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = defaultSpeechModelName
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = defaultTranscribeModelName
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoiceName
	}
	if cfg.ThinkingBudget <= 0 {
		cfg.ThinkingBudget = defaultThinkingBudget
	}
	return &LLMService{models: models, cfg: cfg}
}

func (s *LLMService) StreamResponse(ctx context.Context, turns []Turn, opts StreamOptions) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		contents := buildContents(turns)
		if len(contents) == 0 {
			send(ctx, out, Fragment{Err: fmt.Errorf("%w: prompt history is empty", ErrGateway)})
			return
		}

		stream := s.models.GenerateContentStream(ctx, s.cfg.ChatModel, contents, s.streamConfig(opts))
		for resp, err := range stream {
			if err != nil {
				log.Error("Gemini stream error", "model", s.cfg.ChatModel, "err", err)
				send(ctx, out, Fragment{Err: fmt.Errorf("%w: %w", ErrGateway, err)})
				return
			}
			if !send(ctx, out, Fragment{Text: resp.Text()}) {
				return
			}
		}
	}()

	return out
}

func (s *LLMService) streamConfig(opts StreamOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if opts.Thinking {
		budget := int32(s.cfg.ThinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	if opts.WebSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func (s *LLMService) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.cfg.Voice},
			},
		},
	}

	resp, err := s.models.GenerateContent(ctx, s.cfg.SpeechModel, contents, cfg)
	if err != nil {
		log.Error("Gemini TTS error", "model", s.cfg.SpeechModel, "err", err)
		return nil, fmt.Errorf("%w: speech request failed: %w", ErrGateway, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no speech candidates", ErrGateway)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, fmt.Errorf("%w: speech response carried no audio", ErrGateway)
}

func (s *LLMService) TranscribeAudio(ctx context.Context, audio []byte) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(audio, transcribeMimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := s.models.GenerateContent(ctx, s.cfg.TranscribeModel, contents, nil)
	if err != nil {
		log.Error("Gemini transcription error", "model", s.cfg.TranscribeModel, "err", err)
		return "", fmt.Errorf("%w: transcription request failed: %w", ErrGateway, err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

// buildContents maps turns to Gemini contents. Attachments whose data does
// not decode are dropped with a warning.
func buildContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		parts := []*genai.Part{genai.NewPartFromText(t.Text)}
		for _, att := range t.Attachments {
			data, err := utils.DecodeAttachment(att)
			if err != nil {
				log.Warn("Skipping undecodable attachment", "name", att.Name, "err", err)
				continue
			}
			parts = append(parts, genai.NewPartFromBytes(data, att.MimeType))
		}

		var role genai.Role = genai.RoleUser
		if t.Role == store.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

func send(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
