package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"omar.ai/academic-chat/internal/core"
	"omar.ai/academic-chat/internal/realtime"
	"omar.ai/academic-chat/internal/store"
	"omar.ai/academic-chat/internal/utils"
)

const (
	// maxUploadMemory is what ParseMultipartForm keeps in memory before
	// spilling to temp files.
	maxUploadMemory = 32 << 20

	sessionsEvent = "sessions"
)

type APIHandler struct {
	sessions *core.SessionService
	merger   *core.Merger
	gateway  core.Gateway
	hub      *realtime.Hub
	strings  core.Strings
}

func NewAPIHandler(sessions *core.SessionService, merger *core.Merger, gateway core.Gateway, hub *realtime.Hub, strs core.Strings) *APIHandler {
	return &APIHandler{
		sessions: sessions,
		merger:   merger,
		gateway:  gateway,
		hub:      hub,
		strings:  strs,
	}
}

// SessionsResponse is both the list body and the websocket payload.
type SessionsResponse struct {
	Sessions         []store.ChatSession `json:"sessions"`
	CurrentSessionID string              `json:"currentSessionId"`
}

func NewSessionsResponse(svc *core.SessionService) SessionsResponse {
	return SessionsResponse{Sessions: svc.Sessions(), CurrentSessionID: svc.CurrentID()}
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewSessionsResponse(h.sessions))
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.sessions.CreateSession())
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := h.sessions.Session(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.DeleteSession(sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SelectSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.sessions.SelectSession(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NewSessionsResponse(h.sessions))
}

type PostMessageRequest struct {
	Text        string             `json:"text"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	Preset      string             `json:"preset,omitempty"`
	Directive   string             `json:"directive,omitempty"`
	Thinking    bool               `json:"thinking"`
	WebSearch   bool               `json:"webSearch"`
}

// PostMessageHandler streams the turn as server-sent events. Each data event
// carries the session's full message list; the stream ends with a done event.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	in, err := h.turnInput(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	started := false
	onUpdate := func(msgs []store.Message) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(msgs)
		if err != nil {
			log.Error("Failed to marshal messages", "session", sessionID, "err", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	err = h.merger.Send(r.Context(), sessionID, in, onUpdate)
	if err != nil && !started {
		writeError(w, err)
		return
	}
	if err != nil {
		log.Error("Turn ended early", "session", sessionID, "err", err)
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
	}
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// turnInput resolves a preset into its directive. An explicit directive wins
// over the preset's.
func (h *APIHandler) turnInput(req PostMessageRequest) (core.TurnInput, error) {
	directive := req.Directive
	if directive == "" {
		d, err := core.DirectiveFor(req.Preset)
		if err != nil {
			return core.TurnInput{}, err
		}
		directive = d
	}

	text := req.Text
	if req.Preset == core.PresetLecture && strings.TrimSpace(text) == "" {
		text = h.strings.LectureText
	}

	return core.TurnInput{
		Text:        text,
		Attachments: req.Attachments,
		Directive:   directive,
		Thinking:    req.Thinking,
		WebSearch:   req.WebSearch,
	}, nil
}

func (h *APIHandler) UploadAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxAttachmentBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	attachments := make([]store.Attachment, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "Failed to open upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		att, err := utils.EncodeReader(fh.Filename, f, utils.MaxAttachmentBytes)
		f.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		attachments = append(attachments, att)
	}
	writeJSON(w, http.StatusOK, attachments)
}

type SpeechRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) SpeechHandler(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Text cannot be empty", http.StatusBadRequest)
		return
	}

	pcm, err := h.gateway.GenerateSpeech(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	w.Write(utils.WrapPCM(pcm, utils.SpeechSampleRate, 1))
}

type TranscribeResponse struct {
	Text string `json:"text"`
}

func (h *APIHandler) TranscribeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxAttachmentBytes)
	f, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing audio upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "Failed to read audio: "+err.Error(), http.StatusBadRequest)
		return
	}

	text, err := h.gateway.TranscribeAudio(r.Context(), audio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscribeResponse{Text: text})
}

func (h *APIHandler) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "Realtime updates are disabled", http.StatusServiceUnavailable)
		return
	}
	h.hub.ServeWS(w, r, sessionsEvent, NewSessionsResponse(h.sessions))
}

// BroadcastSessions pushes the collection to websocket clients. It is meant
// to be registered with SessionService.Subscribe.
func (h *APIHandler) BroadcastSessions(sessions []store.ChatSession) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(sessionsEvent, SessionsResponse{
		Sessions:         sessions,
		CurrentSessionID: h.sessions.CurrentID(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrEmptyTurn):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrTurnInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrGateway):
		log.Error("Completion service failed", "err", err)
		http.Error(w, "Completion service failed", http.StatusBadGateway)
	default:
		log.Error("Request failed", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
