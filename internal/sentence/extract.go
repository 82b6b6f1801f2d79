package sentence

import (
	"regexp"
	"strings"
	"unicode"
)

// Extract splits streamed text into complete sentences plus the unconsumed
// remainder. It is deliberately conservative: when a boundary is ambiguous the
// text stays in the remainder until more context arrives or the caller flushes.
// Speaking a fragment with the wrong punctuation is worse than a short delay.

// Closed dictionary of abbreviations that never end a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "st": {},
	"etc": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {},
	"aug": {}, "sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
}

// Matches trailing multi-dot abbreviations like "U.S." or "e.g."
var multiDotAbbrev = regexp.MustCompile(`(?:[A-Za-z]\.){2,}$`)

// Extract returns the complete sentences found in text, in order, and the
// remaining tail that has no confirmed boundary yet. Text inside an unclosed
// ``` fence is never split; the whole input is returned as remainder until the
// fence closes.
func Extract(text string) (sentences []string, remainder string) {
	if strings.Count(text, "```")%2 != 0 {
		return nil, text
	}

	runes := []rune(text)
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			i++
			continue
		}
		// Fold a run of dots (ellipsis) into a single candidate.
		end := i
		if r == '.' {
			for end+1 < len(runes) && runes[end+1] == '.' {
				end++
			}
		}
		if isBoundary(runes, i, end) {
			s := strings.TrimSpace(string(runes[start : end+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			i = end + 1
			for i < len(runes) && unicode.IsSpace(runes[i]) {
				i++
			}
			start = i
			continue
		}
		i = end + 1
	}
	return sentences, string(runes[start:])
}

// isBoundary reports whether the terminator run runes[idx..end] ends a
// sentence. idx is the first terminator rune, end the last (they differ only
// for ellipses).
func isBoundary(runes []rune, idx, end int) bool {
	// The text simply ending is never a boundary; callers flush explicitly.
	if end+1 >= len(runes) {
		return false
	}

	if runes[idx] == '.' {
		if end > idx {
			// Ellipsis: only a boundary when immediately followed by
			// whitespace and then an upper/quote/bracket opener.
			if !unicode.IsSpace(runes[end+1]) {
				return false
			}
		} else {
			if isDecimal(runes, idx) || isAbbreviation(runes, idx) || isFileExtension(runes, idx) {
				return false
			}
		}
	}
	if insideURL(runes, idx) {
		return false
	}

	// After skipping whitespace the next character must open a new sentence.
	j := end + 1
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j >= len(runes) {
		return false
	}
	return opensSentence(runes[j])
}

func opensSentence(r rune) bool {
	if unicode.IsUpper(r) {
		return true
	}
	switch r {
	case '"', '\'', '“', '‘', '(', '[', '{':
		return true
	}
	return false
}

// isDecimal reports a dot sitting between two digits, e.g. "5.5".
func isDecimal(runes []rune, idx int) bool {
	return idx > 0 && idx+1 < len(runes) &&
		unicode.IsDigit(runes[idx-1]) && unicode.IsDigit(runes[idx+1])
}

// isAbbreviation checks the word immediately before the dot against the closed
// dictionary, the single-letter-initial rule, and the multi-dot rule ("U.S.").
func isAbbreviation(runes []rune, idx int) bool {
	w := idx
	for w > 0 && unicode.IsLetter(runes[w-1]) {
		w--
	}
	word := string(runes[w:idx])
	if len(word) == 1 {
		return true
	}
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return true
	}
	return multiDotAbbrev.MatchString(string(runes[:idx+1]))
}

// isFileExtension suppresses dots that look like "name.ext" where 2-4 letters
// follow the dot and run straight into a non-space character ("main.go:12").
func isFileExtension(runes []rune, idx int) bool {
	n := 0
	j := idx + 1
	for j < len(runes) && unicode.IsLetter(runes[j]) && n <= 4 {
		n++
		j++
	}
	return n >= 2 && n <= 4 && j < len(runes) && !unicode.IsSpace(runes[j])
}

// insideURL walks back to the start of the whitespace-delimited token holding
// the terminator and checks for a URL scheme or www. prefix.
func insideURL(runes []rune, idx int) bool {
	t := idx
	for t > 0 && !unicode.IsSpace(runes[t-1]) {
		t--
	}
	token := strings.ToLower(string(runes[t:idx]))
	return strings.HasPrefix(token, "http://") ||
		strings.HasPrefix(token, "https://") ||
		strings.HasPrefix(token, "www.")
}
