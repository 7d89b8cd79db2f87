package telegram

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"kinobot/internal/transport"
)

func TestContentOf(t *testing.T) {
	t.Parallel()
	chat := &tele.Chat{ID: -100, Type: tele.ChatPrivate}
	tests := []struct {
		name string
		msg  *tele.Message
		want transport.ContentKind
	}{
		{"text", &tele.Message{ID: 1, Chat: chat, Text: "hello"}, transport.ContentText},
		{"photo", &tele.Message{ID: 2, Chat: chat, Photo: &tele.Photo{}, Caption: "poster"}, transport.ContentPhoto},
		{"video", &tele.Message{ID: 3, Chat: chat, Video: &tele.Video{}}, transport.ContentVideo},
		{"animation wins over document", &tele.Message{ID: 4, Chat: chat, Animation: &tele.Animation{}, Document: &tele.Document{}}, transport.ContentAnimation},
		{"document", &tele.Message{ID: 5, Chat: chat, Document: &tele.Document{}}, transport.ContentDocument},
		{"voice", &tele.Message{ID: 6, Chat: chat, Voice: &tele.Voice{}}, transport.ContentVoice},
		{"sticker", &tele.Message{ID: 7, Chat: chat, Sticker: &tele.Sticker{}}, transport.ContentSticker},
		{"empty", &tele.Message{ID: 8, Chat: chat}, transport.ContentUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := contentOf(tt.msg)
			if c.Kind != tt.want {
				t.Fatalf("Kind = %s, want %s", c.Kind, tt.want)
			}
			if c.FromChatID != -100 || c.MessageID != tt.msg.ID {
				t.Fatalf("source = (%d, %d)", c.FromChatID, c.MessageID)
			}
		})
	}
}

func TestToUpdate(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     10,
		Chat:   &tele.Chat{ID: 55, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 55, Username: "ann", FirstName: "Ann"},
		Text:   "/broadcast",
	}
	up, ok := toUpdate(m)
	if !ok {
		t.Fatal("toUpdate rejected a valid message")
	}
	if up.Message.FromID != 55 || up.Message.FromUsername != "ann" || !up.Message.Private {
		t.Fatalf("message = %+v", up.Message)
	}
	if _, ok := toUpdate(&tele.Message{ID: 1}); ok {
		t.Fatal("toUpdate accepted a message without sender")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	for _, err := range []error{tele.ErrBlockedByUser, tele.ErrUserIsDeactivated, tele.ErrNotStartedByUser, tele.ErrChatNotFound} {
		got := classify(err)
		if !errors.Is(got, transport.ErrRecipientUnreachable) {
			t.Fatalf("classify(%v) = %v, want unreachable", err, got)
		}
		if !errors.Is(got, err) {
			t.Fatalf("classify(%v) lost the original error", err)
		}
	}
	other := errors.New("connection reset")
	if got := classify(other); errors.Is(got, transport.ErrRecipientUnreachable) {
		t.Fatalf("classify(%v) = unreachable", other)
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	line := strings.Repeat("x", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	chunks := splitText(text, 70)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want split", len(chunks))
	}
	for _, c := range chunks {
		if n := len([]rune(c)); n > 70 {
			t.Fatalf("chunk len %d > limit", n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.ReplaceAll(strings.Join(chunks, ""), "\n", "") != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("content lost while splitting")
	}
}

func TestClipRunesKeepsUTF8(t *testing.T) {
	t.Parallel()
	d := strings.Repeat("ф", 300)
	got := clipRunes(d, maxCommandDescription)
	if !utf8.ValidString(got) || utf8.RuneCountInString(got) != maxCommandDescription {
		t.Fatalf("clipRunes: valid=%v runes=%d", utf8.ValidString(got), utf8.RuneCountInString(got))
	}
	if clipRunes("short", 10) != "short" {
		t.Fatal("short string changed")
	}
}
