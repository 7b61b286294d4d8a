package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy selects how text longer than the limit is broken into chunks.
type Policy int

const (
	// PolicySentence splits on paragraph breaks first and only breaks long
	// paragraphs on sentence terminators.
	PolicySentence Policy = iota
	// PolicyAccumulate ignores paragraphs and greedily merges sentences.
	PolicyAccumulate
)

func (p Policy) String() string {
	switch p {
	case PolicySentence:
		return "sentence"
	case PolicyAccumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a config value onto a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sentence":
		return PolicySentence, nil
	case "accumulate":
		return PolicyAccumulate, nil
	default:
		return PolicySentence, fmt.Errorf("unknown segmentation policy %q", name)
	}
}

// Split breaks text into ordered chunks of at most maxChars characters using
// the given policy. Chunks are never empty and keep the left-to-right order of
// the input. Whitespace-only input yields no chunks.
func Split(text string, maxChars int, policy Policy) []string {
	if policy == PolicyAccumulate {
		return Accumulate(text, maxChars)
	}
	return Sentences(text, maxChars)
}

// Sentences implements PolicySentence.
func Sentences(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	text = strings.TrimSpace(normalizeNewlines(text))
	if text == "" {
		return nil
	}

	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= maxChars {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, pack(fragments(para), maxChars)...)
	}
	return hardCut(chunks, maxChars)
}

// Accumulate implements PolicyAccumulate. Sentences are separated at the
// whitespace that follows a terminator and merged while the joined chunk fits.
func Accumulate(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	text = strings.TrimSpace(normalizeNewlines(text))
	if text == "" {
		return nil
	}

	var chunks []string
	current := ""
	for _, sentence := range sentenceRuns(text) {
		if current == "" {
			current = sentence
			continue
		}
		if runeLen(current)+1+runeLen(sentence) <= maxChars {
			current += " " + sentence
			continue
		}
		chunks = append(chunks, current)
		current = sentence
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return hardCut(chunks, maxChars)
}

// fragments cuts a paragraph after every run of sentence terminators. The
// terminators stay attached to the fragment they close.
func fragments(para string) []string {
	runes := []rune(para)
	var out []string
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
			b.WriteRune(runes[i])
		}
		if f := strings.TrimSpace(b.String()); f != "" {
			out = append(out, f)
		}
		b.Reset()
	}
	if f := strings.TrimSpace(b.String()); f != "" {
		out = append(out, f)
	}
	return out
}

// sentenceRuns splits text on whitespace that directly follows a terminator.
func sentenceRuns(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || !isTerminator(runes[i-1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:i])); s != "" {
			out = append(out, s)
		}
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		start = i
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func pack(frags []string, maxChars int) []string {
	var out []string
	current := ""
	for _, f := range frags {
		candidate := f
		if current != "" {
			candidate = current + " " + f
		}
		if runeLen(candidate) > maxChars {
			if current != "" {
				out = append(out, current)
			}
			current = f
			continue
		}
		current = candidate
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// hardCut slices any chunk still over the limit into fixed-size pieces.
func hardCut(chunks []string, maxChars int) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		runes := []rune(c)
		if len(runes) <= maxChars {
			out = append(out, c)
			continue
		}
		for i := 0; i < len(runes); i += maxChars {
			end := min(i+maxChars, len(runes))
			if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '…', '।':
		return true
	}
	return false
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
