package telegram

import (
	"strings"
	"testing"
)

func TestChannelCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		chat   int64
		thread int
		want   string
	}{
		{chat: -1001234567890, thread: 0, want: "-1001234567890"},
		{chat: -1001234567890, thread: 42, want: "-1001234567890:42"},
		{chat: 99, thread: 0, want: "99"},
	}
	for _, tt := range tests {
		got := EncodeChannel(tt.chat, tt.thread)
		if got != tt.want {
			t.Fatalf("EncodeChannel(%d, %d) = %q, want %q", tt.chat, tt.thread, got, tt.want)
		}
		chat, thread, err := ParseChannel(got)
		if err != nil || chat != tt.chat || thread != tt.thread {
			t.Fatalf("ParseChannel(%q) = %d, %d, %v", got, chat, thread, err)
		}
	}
}

func TestParseChannelRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "abc", "0", "12:", "12:x", "12:-3"} {
		if _, _, err := ParseChannel(in); err == nil {
			t.Fatalf("ParseChannel(%q) should fail", in)
		}
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	text := strings.Repeat(line+"\n", 10)
	chunks := splitText(text, 100, "")
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d, want at least 4", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d too long: %d", i, len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has stray newlines: %q", i, c)
		}
	}
	if got := strings.Join(chunks, "\n"); got != strings.TrimRight(text, "\n") {
		t.Fatal("rejoined chunks differ from the input")
	}
}

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	if got := splitText("hi", 10, "HTML"); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("splitText = %q", got)
	}
}
