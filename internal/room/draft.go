package room

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextLength bounds a text message, in runes.
	MaxTextLength = 4000
	// MaxSenderNameLength bounds display names, in runes. Longer names are cut.
	MaxSenderNameLength = 64
	// MaxSenderIDLength bounds the opaque client identifier.
	MaxSenderIDLength = 128

	DefaultSenderName = "Anonymous"
)

// Draft is a message before the store assigns its sequence and timestamp.
type Draft struct {
	SenderID   string
	SenderName string
	Body       Body
}

// SendRequest is the payload of the send-message event.
type SendRequest struct {
	RoomID       string `json:"roomId"`
	Type         Kind   `json:"type"`
	Content      string `json:"content"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         *int64 `json:"size,omitempty"`
}

// Draft validates the request and returns the normalized room code and
// draft. Errors match ErrValidation.
func (r SendRequest) Draft() (string, Draft, error) {
	code := NormalizeCode(r.RoomID)
	if code == "" {
		return "", Draft{}, invalid("roomId", "required")
	}

	senderID := strings.TrimSpace(r.SenderID)
	if senderID == "" {
		return "", Draft{}, invalid("senderId", "required")
	}
	if len(senderID) > MaxSenderIDLength {
		return "", Draft{}, invalid("senderId", "too long")
	}

	draft := Draft{
		SenderID:   senderID,
		SenderName: normalizeSenderName(r.SenderName),
	}

	switch r.Type {
	case KindText:
		if strings.TrimSpace(r.Content) == "" {
			return "", Draft{}, invalid("content", "empty message")
		}
		if utf8.RuneCountInString(r.Content) > MaxTextLength {
			return "", Draft{}, invalid("content", "message too long")
		}
		draft.Body = Text{Content: r.Content}
	case KindFile:
		locator := strings.TrimSpace(r.Content)
		if locator == "" {
			return "", Draft{}, invalid("content", "file locator required")
		}
		name := strings.TrimSpace(r.OriginalName)
		if name == "" {
			return "", Draft{}, invalid("originalName", "required for file messages")
		}
		mimeType := strings.TrimSpace(r.MimeType)
		if mimeType == "" {
			return "", Draft{}, invalid("mimeType", "required for file messages")
		}
		if r.Size == nil {
			return "", Draft{}, invalid("size", "required for file messages")
		}
		if *r.Size < 0 {
			return "", Draft{}, invalid("size", "must not be negative")
		}
		draft.Body = File{
			Locator:      locator,
			OriginalName: name,
			MimeType:     mimeType,
			Size:         uint64(*r.Size),
		}
	default:
		return "", Draft{}, invalid("type", `must be "text" or "file"`)
	}
	return code, draft, nil
}

func normalizeSenderName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultSenderName
	}
	if utf8.RuneCountInString(name) > MaxSenderNameLength {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:MaxSenderNameLength]))
	}
	return name
}
