package output

import (
	"strings"
	"testing"
)

func TestSplitMessageKeepsShortTextWhole(t *testing.T) {
	chunks := splitMessage("short reminder", discordMessageLimit)
	if len(chunks) != 1 || chunks[0] != "short reminder" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitMessageSplitsOnNewlineNearLimit(t *testing.T) {
	line := strings.Repeat("a", 100) + "\n"
	text := strings.Repeat(line, 30) // well over 2000 chars, newline-delimited
	chunks := splitMessage(text, discordMessageLimit)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > discordMessageLimit {
			t.Fatalf("chunk exceeds limit: %d chars", len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not reconstruct the original text")
	}
}
