package store

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	Name     string `json:"name,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsThinking  bool         `json:"isThinking,omitempty"`
}

// ChatSession messages are kept oldest first.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Clone returns a deep copy so callers can mutate freely.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = CloneMessages(s.Messages)
	return out
}

func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}

func CloneSessions(sessions []ChatSession) []ChatSession {
	out := make([]ChatSession, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}
