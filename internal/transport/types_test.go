package transport

import (
	"errors"
	"strings"
	"testing"
)

func TestDescribeText(t *testing.T) {
	t.Parallel()
	c := Content{Kind: ContentText, Text: strings.Repeat("a", 150), MessageID: 1}
	kind, preview, err := c.Describe(100)
	if err != nil {
		t.Fatalf("Describe error: %v", err)
	}
	if kind != ContentText {
		t.Fatalf("kind = %s, want text", kind)
	}
	if len(preview) != 100 {
		t.Fatalf("preview len = %d, want 100", len(preview))
	}
}

func TestDescribeTextCountsRunes(t *testing.T) {
	t.Parallel()
	c := Content{Kind: ContentText, Text: strings.Repeat("ё", 120), MessageID: 1}
	_, preview, err := c.Describe(0)
	if err != nil {
		t.Fatalf("Describe error: %v", err)
	}
	if n := len([]rune(preview)); n != DefaultPreviewLen {
		t.Fatalf("preview runes = %d, want %d", n, DefaultPreviewLen)
	}
}

func TestDescribeShortText(t *testing.T) {
	t.Parallel()
	_, preview, _ := Content{Kind: ContentText, Text: "hi", MessageID: 3}.Describe(100)
	if preview != "hi" {
		t.Fatalf("preview = %q", preview)
	}
}

func TestDescribeMedia(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind ContentKind
		want string
	}{
		{ContentPhoto, "Photo file"},
		{ContentVideo, "Video file"},
		{ContentDocument, "Document file"},
		{ContentVoice, "Voice file"},
	}
	for _, tt := range tests {
		_, preview, err := Content{Kind: tt.kind, Caption: "ignored", MessageID: 9}.Describe(100)
		if err != nil {
			t.Fatalf("%s: Describe error: %v", tt.kind, err)
		}
		if preview != tt.want {
			t.Fatalf("%s: preview = %q, want %q", tt.kind, preview, tt.want)
		}
	}
}

func TestDescribeUnknown(t *testing.T) {
	t.Parallel()
	for _, c := range []Content{
		{},
		{Kind: ContentUnknown, MessageID: 1},
		{Kind: ContentText, Text: "no source"},
	} {
		kind, _, err := c.Describe(100)
		if !errors.Is(err, ErrUnknownContent) {
			t.Fatalf("%+v: err = %v, want ErrUnknownContent", c, err)
		}
		if kind != ContentUnknown {
			t.Fatalf("%+v: kind = %s", c, kind)
		}
	}
}
