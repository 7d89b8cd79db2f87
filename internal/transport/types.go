package transport

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrRecipientUnreachable is wrapped by adapters when a recipient can no longer be
	// messaged (blocked the bot, deactivated, never started it, chat gone).
	ErrRecipientUnreachable = errors.New("recipient unreachable")

	// ErrUnknownContent is returned by Content.Describe when the content cannot be classified.
	ErrUnknownContent = errors.New("unknown content")
)

type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideo     ContentKind = "video"
	ContentDocument  ContentKind = "document"
	ContentAudio     ContentKind = "audio"
	ContentVoice     ContentKind = "voice"
	ContentSticker   ContentKind = "sticker"
	ContentAnimation ContentKind = "animation"
	ContentUnknown   ContentKind = "unknown"
)

const DefaultPreviewLen = 100

// Content references a message that already exists in some chat. Broadcasting copies it
// from (FromChatID, MessageID) to every recipient; the same value is reused per recipient.
type Content struct {
	Kind       ContentKind
	Text       string
	Caption    string
	FromChatID int64
	MessageID  int
}

// Describe classifies the content and renders a short human-readable preview.
func (c Content) Describe(previewLen int) (ContentKind, string, error) {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	if c.Kind == "" || c.Kind == ContentUnknown || c.MessageID == 0 {
		return ContentUnknown, "", ErrUnknownContent
	}
	if c.Kind == ContentText {
		return c.Kind, truncateRunes(c.Text, previewLen), nil
	}
	k := string(c.Kind)
	return c.Kind, strings.ToUpper(k[:1]) + k[1:] + " file", nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n])
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FirstName    string
	LastName     string
	Text         string
	Private      bool
	// Content is the message as a broadcastable reference.
	Content Content
}

// Adapter is the chat transport used by the bot and the campaign engine.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error
	// Deliver copies content to recipient. Unreachable recipients yield an error
	// wrapping ErrRecipientUnreachable.
	Deliver(ctx context.Context, recipient int64, content Content) error
}
