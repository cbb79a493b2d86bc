package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreviewShortStringUnchanged(t *testing.T) {
	if got := Preview("line one\nline two"); got != "line one line two" {
		t.Errorf("got %q", got)
	}
}

func TestPreviewTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("a", OutputPreviewLen+50)
	got := Preview(long)
	if len(got) != OutputPreviewLen {
		t.Errorf("preview length = %d, want %d", len(got), OutputPreviewLen)
	}
}

func TestPreviewKeepsRunesIntact(t *testing.T) {
	// Place a multi-byte rune straddling the truncation point.
	long := strings.Repeat("x", OutputPreviewLen-1) + strings.Repeat("é", 20)
	got := Preview(long)
	if !utf8.ValidString(got) {
		t.Errorf("preview is not valid UTF-8: %q", got)
	}
	if len(got) > OutputPreviewLen {
		t.Errorf("preview length = %d, want <= %d", len(got), OutputPreviewLen)
	}
	long = strings.Repeat("世", OutputPreviewLen)
	got = Preview(long)
	if !utf8.ValidString(got) {
		t.Errorf("preview is not valid UTF-8: %q", got)
	}
}
