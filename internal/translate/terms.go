package translate

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PlaceholderMap maps placeholder tokens to the terms they replaced inside
// one text. It is never shared between texts.
type PlaceholderMap map[string]string

// Placeholder returns the token used for the i-th distinct term of a text
func Placeholder(i int) string {
	return "__TERM" + strconv.Itoa(i) + "__"
}

// Terms returns the masked terms in placeholder order
func (m PlaceholderMap) Terms() []string {
	type entry struct {
		idx  int
		term string
	}
	entries := make([]entry, 0, len(m))
	for token, term := range m {
		idx, ok := placeholderIndex(token)
		if !ok {
			continue
		}
		entries = append(entries, entry{idx, term})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	terms := make([]string, len(entries))
	for i, e := range entries {
		terms[i] = e.term
	}
	return terms
}

// Rune classes. Scripts without letter case (CJK, Devanagari, Arabic) form
// their own runs so a Latin term glued to them is still a separate word.
const (
	classOther = iota
	classCased
	classUncased
)

func runeClass(r rune, prev int) int {
	switch {
	case unicode.IsMark(r):
		return prev
	case unicode.IsLetter(r) && !unicode.IsUpper(r) && !unicode.IsLower(r) && !unicode.IsTitle(r):
		return classUncased
	case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
		return classCased
	}
	return classOther
}

// token is a maximal run of runes of one class
type token struct {
	text string
	word bool
}

func tokenize(text string) []token {
	var tokens []token
	start := 0
	class := classOther
	for i, r := range text {
		c := runeClass(r, class)
		if i > 0 && c != class {
			tokens = append(tokens, token{text: text[start:i], word: class != classOther})
			start = i
		}
		class = c
	}
	if start < len(text) {
		tokens = append(tokens, token{text: text[start:], word: class != classOther})
	}
	return tokens
}

// IsTechnicalTerm reports whether a single word is a technical term:
// a mixed-case identifier with an inner capital (PyTorch, iPhone),
// an upper-case acronym of two or more letters (GAN, HTTP_API),
// or a mix of letters and digits (mp4, GPT4o).
func IsTechnicalTerm(word string) bool {
	var upper, lower, innerUpper, letters, digits int
	for _, r := range word {
		switch {
		case unicode.IsUpper(r):
			if letters > 0 {
				innerUpper++
			}
			upper++
			letters++
		case unicode.IsLower(r):
			lower++
			letters++
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}

	switch {
	case letters > 0 && digits > 0:
		return true
	case lower > 0 && innerUpper > 0:
		return true
	case lower == 0 && upper >= 2:
		return true
	}
	return false
}

// Mask replaces every whole-word occurrence of each distinct technical term
// in text with a placeholder, numbered in order of first appearance.
func Mask(text string) (string, PlaceholderMap) {
	tokens := tokenize(text)
	placeholders := PlaceholderMap{}
	byTerm := map[string]string{}

	var b strings.Builder
	b.Grow(len(text))
	for _, tok := range tokens {
		if !tok.word || !IsTechnicalTerm(tok.text) {
			b.WriteString(tok.text)
			continue
		}
		ph, ok := byTerm[tok.text]
		if !ok {
			ph = Placeholder(len(byTerm))
			byTerm[tok.text] = ph
			placeholders[ph] = tok.text
		}
		b.WriteString(ph)
	}
	return b.String(), placeholders
}

// placeholderPattern also accepts the spacing translation models tend to
// insert inside the marker, e.g. "__ TERM 0 __".
var placeholderPattern = regexp.MustCompile(`_\s*_\s*TERM\s*(\d+)\s*_\s*_`)

func placeholderIndex(token string) (int, bool) {
	m := placeholderPattern.FindStringSubmatch(token)
	if m == nil || m[0] != token {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// paddedPlaceholderPattern captures the whitespace on either side of a
// marker so it can be collapsed when the term is restored.
var paddedPlaceholderPattern = regexp.MustCompile(`(\s*)(` + placeholderPattern.String() + `)(\s*)`)

// Unmask restores the terms recorded in placeholders. Markers with an
// unknown index are left as they are; terms whose marker vanished are
// simply not restored. A whitespace run next to a restored term shrinks
// to its first character unless it touches either end of the text.
func Unmask(text string, placeholders PlaceholderMap) string {
	if len(placeholders) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range paddedPlaceholderPattern.FindAllStringSubmatchIndex(text, -1) {
		idx, err := strconv.Atoi(text[loc[6]:loc[7]])
		if err != nil {
			continue
		}
		term, ok := placeholders[Placeholder(idx)]
		if !ok {
			continue
		}

		b.WriteString(text[last:loc[0]])
		b.WriteString(collapseSpace(text[loc[2]:loc[3]], loc[2] == 0))
		b.WriteString(term)
		b.WriteString(collapseSpace(text[loc[8]:loc[9]], loc[9] == len(text)))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func collapseSpace(run string, edge bool) string {
	if edge || run == "" {
		return run
	}
	r, size := utf8.DecodeRuneInString(run)
	if size == len(run) {
		return run
	}
	return string(r)
}
