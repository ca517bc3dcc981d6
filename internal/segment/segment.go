// Package segment splits long replies into platform-sized chunks
// without breaking sentences where avoidable.
package segment

import "strings"

// Split breaks text into ordered chunks of at most maxLen runes. Text
// that already fits is returned as a single chunk. Otherwise the text
// is split on sentence boundaries ('.', '!', or '?' followed by
// whitespace) and sentences are greedily packed into chunks; a single
// sentence longer than maxLen is hard-split into fixed-size pieces.
// Chunks are whitespace-trimmed; order is preserved and no sentence is
// dropped. Split is pure and deterministic.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{text}
	}
	if runeLen(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentLen = 0
		}
	}

	for _, sentence := range sentences(text) {
		sLen := runeLen(sentence)

		if sLen > maxLen {
			flush()
			runes := []rune(sentence)
			for i := 0; i < len(runes); i += maxLen {
				end := i + maxLen
				if end > len(runes) {
					end = len(runes)
				}
				chunks = append(chunks, strings.TrimSpace(string(runes[i:end])))
			}
			continue
		}

		if currentLen+sLen+1 > maxLen {
			flush()
		}
		current.WriteString(sentence)
		current.WriteString(" ")
		currentLen += sLen + 1
	}
	flush()

	return chunks
}

// sentences splits text after '.', '!', or '?' when followed by
// whitespace. The trailing whitespace is consumed; the punctuation
// stays with its sentence. Text without a terminator is one sentence.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && isSpace(runes[i+1]) {
			out = append(out, string(runes[start:i+1]))
			i++
			for i < len(runes) && isSpace(runes[i]) {
				i++
			}
			start = i
			i--
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}
