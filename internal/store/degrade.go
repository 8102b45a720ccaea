package store

// DegradeState is a step of the procedure that shrinks the session list until
// it fits the storage bound.
type DegradeState int

const (
	Attempting DegradeState = iota
	DroppingSession
	StrippingAttachments
	TruncatingMessages
	Exhausted
)

// keepLastMessages is how many messages survive the first truncation.
const keepLastMessages = 3

func (s DegradeState) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case DroppingSession:
		return "dropping-session"
	case StrippingAttachments:
		return "stripping-attachments"
	case TruncatingMessages:
		return "truncating-messages"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// NextDegradeState picks the step to take after a capacity failure. The
// sessions are ordered newest first.
func NextDegradeState(sessions []ChatSession) DegradeState {
	switch {
	case len(sessions) > 1:
		return DroppingSession
	case len(sessions) == 1:
		msgs := sessions[0].Messages
		if hasStrippableAttachments(msgs) {
			return StrippingAttachments
		}
		if len(msgs) > 1 {
			return TruncatingMessages
		}
		return Exhausted
	default:
		return Exhausted
	}
}

// ApplyDegrade returns a reduced copy of sessions for the given step. The
// input is never modified.
func ApplyDegrade(state DegradeState, sessions []ChatSession) []ChatSession {
	switch state {
	case DroppingSession:
		if len(sessions) == 0 {
			return []ChatSession{}
		}
		return CloneSessions(sessions[:len(sessions)-1])
	case StrippingAttachments:
		out := CloneSessions(sessions)
		for i := range out {
			msgs := out[i].Messages
			for j := 0; j < len(msgs)-1; j++ {
				msgs[j].Attachments = nil
			}
		}
		return out
	case TruncatingMessages:
		out := CloneSessions(sessions)
		for i := range out {
			msgs := out[i].Messages
			keep := keepLastMessages
			if len(msgs) <= keep {
				keep = 1
			}
			if len(msgs) > keep {
				out[i].Messages = msgs[len(msgs)-keep:]
			}
		}
		return out
	case Exhausted:
		return []ChatSession{}
	default:
		return CloneSessions(sessions)
	}
}

// hasStrippableAttachments ignores the newest message, whose attachments are
// always kept.
func hasStrippableAttachments(msgs []Message) bool {
	for i := 0; i < len(msgs)-1; i++ {
		if msgs[i].HasAttachments() {
			return true
		}
	}
	return false
}
