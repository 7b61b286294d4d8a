package segment

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

var samples = []string{
	"Hello world.",
	"The quick brown fox jumps over the lazy dog. Is it lazy? Yes! It is… very lazy.",
	"First paragraph is short.\n\nSecond paragraph is a little bit longer and keeps going for a while. It has two sentences.",
	strings.Repeat("word ", 200),
	strings.Repeat("x", 1000),
	"यह पहला वाक्य है। यह दूसरा वाक्य है। और यह तीसरा।",
	"Windows\r\n\r\nline endings. Are handled? Yes.",
	"  \n\n  padded paragraph.  \n\n\n\n another one.  ",
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func checkChunks(t *testing.T, text string, max int, chunks []string) {
	t.Helper()
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("chunk %d is empty (max=%d)", i, max)
		}
		if n := utf8.RuneCountInString(c); n > max {
			t.Fatalf("chunk %d has %d chars, limit %d", i, n, max)
		}
	}
	if got, want := stripSpace(strings.Join(chunks, "")), stripSpace(text); got != want {
		t.Fatalf("content not preserved (max=%d)\n got: %q\nwant: %q", max, got, want)
	}
}

func TestSplitInvariants(t *testing.T) {
	for _, policy := range []Policy{PolicySentence, PolicyAccumulate} {
		for _, max := range []int{1, 2, 7, 20, 50, 200, 450} {
			for _, text := range samples {
				checkChunks(t, text, max, Split(text, max, policy))
			}
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	for _, policy := range []Policy{PolicySentence, PolicyAccumulate} {
		for _, text := range []string{"", "   ", "\n\n\t "} {
			for _, max := range []int{1, 10, 450} {
				if got := Split(text, max, policy); len(got) != 0 {
					t.Fatalf("expected no chunks for %q, got %v", text, got)
				}
			}
		}
	}
}

func TestParagraphAtLimitIsOneChunk(t *testing.T) {
	para := strings.Repeat("a", 40) + ". " + strings.Repeat("b", 37) + "."
	if utf8.RuneCountInString(para) != 80 {
		t.Fatalf("fixture length %d", utf8.RuneCountInString(para))
	}
	got := Sentences(para, 80)
	if len(got) != 1 || got[0] != para {
		t.Fatalf("expected single chunk equal to paragraph, got %q", got)
	}
}

func TestParagraphsStayApart(t *testing.T) {
	got := Sentences("One.\n\nTwo.\n\n\n\nThree.", 100)
	want := []string{"One.", "Two.", "Three."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLongParagraphBreaksOnSentences(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon? Zeta eta theta! Iota kappa."
	got := Sentences(text, 35)
	want := []string{"Alpha beta gamma. Delta epsilon?", "Zeta eta theta! Iota kappa."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEllipsisIsTerminator(t *testing.T) {
	got := Sentences("Wait for it… here it comes... done", 16)
	want := []string{"Wait for it…", "here it comes...", "done"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestHardCutWithoutPunctuation(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25)
	got := Sentences(text, 100)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if utf8.RuneCountInString(got[2]) != 50 {
		t.Fatalf("expected 50 char tail, got %d", utf8.RuneCountInString(got[2]))
	}
	checkChunks(t, text, 100, got)
}

func TestHardCutCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	got := Sentences(text, 4)
	want := []string{"éééé", "éééé", "éé"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAccumulateMergesAcrossParagraphs(t *testing.T) {
	text := "One. Two.\n\nThree। Four!"
	got := Accumulate(text, 300)
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %q", got)
	}
	got = Accumulate(text, 10)
	want := []string{"One. Two.", "Three।", "Four!"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAccumulateLongFirstSentence(t *testing.T) {
	text := strings.Repeat("z", 12) + ". Short."
	got := Accumulate(text, 10)
	for _, c := range got {
		if c == "" {
			t.Fatalf("empty chunk in %q", got)
		}
	}
	checkChunks(t, text, 10, got)
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("Accumulate"); err != nil || p != PolicyAccumulate {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicySentence {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if _, err := ParsePolicy("words"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
