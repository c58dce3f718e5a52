package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Word-level heuristics below follow the Gopher, C4 and FineWeb cleaning
// rules. Thresholds are the published defaults; documents failing a rule
// are dropped with the rule name as reason.

var (
	paragraphSplitRe = regexp.MustCompile(`\n{2,}`)
	lineSplitRe      = regexp.MustCompile(`\n+`)
)

// TokenizeWords splits text into word and punctuation tokens: runs of
// letters and digits (plus word-internal apostrophes and hyphens) form
// words, every other printable rune stands alone.
func TokenizeWords(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '\'' || r == '-':
			if cur.Len() > 0 && i+1 < len(runes) && (unicode.IsLetter(runes[i+1]) || unicode.IsDigit(runes[i+1])) {
				cur.WriteRune(r)
			} else {
				flush()
				tokens = append(tokens, string(r))
			}
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()
	return tokens
}

func isSymbolToken(tok string) bool {
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func hasLetter(tok string) bool {
	for _, r := range tok {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// findDuplicates reports how many elements repeat an earlier one and how
// many characters those repeats cover.
func findDuplicates(items []string) (elements, chars int) {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			elements++
			chars += utf8.RuneCountInString(it)
		} else {
			seen[it] = struct{}{}
		}
	}
	return elements, chars
}

func nGrams(words []string, n int) []string {
	if len(words) < n {
		return nil
	}
	grams := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		grams = append(grams, strings.Join(words[i:i+n], " "))
	}
	return grams
}

// topNGramChars returns count*length of the most frequent n-gram, or 0
// when nothing repeats. Ties resolve to the first-seen gram so results
// stay deterministic.
func topNGramChars(grams []string) int {
	counts := make(map[string]int, len(grams))
	for _, g := range grams {
		counts[g]++
	}
	best, bestCount := "", 0
	for _, g := range grams {
		if c := counts[g]; c > bestCount {
			best, bestCount = g, c
		}
	}
	if bestCount <= 1 {
		return 0
	}
	return utf8.RuneCountInString(best) * bestCount
}

// dupNGramChars counts characters covered by repeated word n-grams,
// skipping ahead n words after each repeat so overlaps are not double
// counted.
func dupNGramChars(words []string, n int) int {
	if len(words) < n {
		return 0
	}
	seen := make(map[string]struct{})
	chars := 0
	for i := 0; i+n <= len(words); {
		g := strings.Join(words[i:i+n], " ")
		if _, ok := seen[g]; ok {
			chars += utf8.RuneCountInString(g)
			i += n
		} else {
			seen[g] = struct{}{}
			i++
		}
	}
	return chars
}

const (
	maxDupLineFrac     = 0.30
	maxDupParaFrac     = 0.30
	maxDupLineCharFrac = 0.20
	maxDupParaCharFrac = 0.20
)

var (
	topNGramThresholds = []struct {
		N    int
		Frac float64
	}{{2, 0.20}, {3, 0.18}, {4, 0.16}}

	dupNGramThresholds = []struct {
		N    int
		Frac float64
	}{{5, 0.15}, {6, 0.14}, {7, 0.13}, {8, 0.12}, {9, 0.11}, {10, 0.10}}
)

// NewGopherRepetitionFilter drops documents dominated by repeated lines,
// paragraphs or word n-grams.
func NewGopherRepetitionFilter() *FilterStep {
	fn := func(doc *Document) (bool, string) {
		text := doc.Text
		textLen := float64(utf8.RuneCountInString(text))
		if textLen == 0 {
			return false, "empty"
		}

		paragraphs := paragraphSplitRe.Split(strings.TrimSpace(text), -1)
		dupEl, dupCh := findDuplicates(paragraphs)
		if float64(dupEl)/float64(len(paragraphs)) > maxDupParaFrac {
			return false, "dup_para_frac"
		}
		if float64(dupCh)/textLen > maxDupParaCharFrac {
			return false, "dup_para_char_frac"
		}

		lines := lineSplitRe.Split(text, -1)
		dupEl, dupCh = findDuplicates(lines)
		if float64(dupEl)/float64(len(lines)) > maxDupLineFrac {
			return false, "dup_line_frac"
		}
		if float64(dupCh)/textLen > maxDupLineCharFrac {
			return false, "dup_line_char_frac"
		}

		words := TokenizeWords(text)
		for _, t := range topNGramThresholds {
			grams := nGrams(words, t.N)
			if len(grams) == 0 {
				continue
			}
			if float64(topNGramChars(grams))/textLen > t.Frac {
				return false, fmt.Sprintf("top_%d_gram", t.N)
			}
		}
		for _, t := range dupNGramThresholds {
			if float64(dupNGramChars(words, t.N))/textLen > t.Frac {
				return false, fmt.Sprintf("duplicated_%d_n_grams", t.N)
			}
		}
		return true, ""
	}
	return NewFilterStep("gopher_repetition_filter", fn)
}

const (
	minDocWords           = 50
	maxDocWords           = 100_000
	minAvgWordLength      = 3
	maxAvgWordLength      = 10
	maxSymbolWordRatio    = 0.1
	maxBulletLinesRatio   = 0.9
	maxEllipsisLinesRatio = 0.3
	minAlphaWordsRatio    = 0.8
	minStopWords          = 2
)

// defaultStopWords is the function-word floor from the Gopher paper.
var defaultStopWords = []string{"the", "be", "to", "of", "and", "that", "have", "with"}

// DanishStopWords carries the highest-frequency Danish function words,
// for corpora where the Gopher defaults would reject nearly everything.
var DanishStopWords = []string{
	"og", "i", "jeg", "det", "at", "en", "den", "til", "er", "som",
	"på", "de", "med", "han", "af", "for", "ikke", "der", "var",
}

// NewGopherQualityFilter drops documents failing the Gopher quality
// heuristics: word count bounds, average word length, symbol ratios,
// bullet and ellipsis line ratios, alphabetic word ratio and a stop-word
// floor. A nil stopWords slice selects the Gopher defaults.
func NewGopherQualityFilter(stopWords []string) *FilterStep {
	if stopWords == nil {
		stopWords = defaultStopWords
	}
	stops := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		stops[w] = struct{}{}
	}

	fn := func(doc *Document) (bool, string) {
		text := doc.Text
		words := TokenizeWords(text)
		nWords := len(words)
		if nWords == 0 {
			return false, "gopher_short_doc"
		}

		nonSymbolCount, nonSymbolChars := 0, 0
		for _, w := range words {
			if !isSymbolToken(w) {
				nonSymbolCount++
				nonSymbolChars += utf8.RuneCountInString(w)
			}
		}
		if nonSymbolCount < minDocWords {
			return false, "gopher_short_doc"
		}
		if nonSymbolCount > maxDocWords {
			return false, "gopher_long_doc"
		}

		avg := float64(nonSymbolChars) / float64(nonSymbolCount)
		if avg < minAvgWordLength {
			return false, "gopher_below_avg_threshold"
		}
		if avg > maxAvgWordLength {
			return false, "gopher_above_avg_threshold"
		}

		if float64(strings.Count(text, "#"))/float64(nWords) > maxSymbolWordRatio {
			return false, "gopher_too_many_hashes"
		}
		ellipses := strings.Count(text, "...") + strings.Count(text, "…")
		if float64(ellipses)/float64(nWords) > maxSymbolWordRatio {
			return false, "gopher_too_many_ellipsis"
		}

		lines := strings.Split(text, "\n")
		bulletLines, ellipsisLines := 0, 0
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "•") || strings.HasPrefix(trimmed, "-") {
				bulletLines++
			}
			if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
				ellipsisLines++
			}
		}
		if float64(bulletLines)/float64(len(lines)) > maxBulletLinesRatio {
			return false, "gopher_too_many_bullets"
		}
		if float64(ellipsisLines)/float64(len(lines)) > maxEllipsisLinesRatio {
			return false, "gopher_too_many_end_ellipsis"
		}

		alphaWords := 0
		for _, w := range words {
			if hasLetter(w) {
				alphaWords++
			}
		}
		if float64(alphaWords)/float64(nWords) < minAlphaWordsRatio {
			return false, "gopher_below_alpha_threshold"
		}

		stopCount := 0
		for _, w := range words {
			if _, ok := stops[w]; ok {
				stopCount++
			}
		}
		if stopCount < minStopWords {
			return false, "gopher_enough_stop_words"
		}
		return true, ""
	}
	return NewFilterStep("gopher_quality_filter", fn)
}

const (
	c4MinWordsPerLine = 3
	c4MaxWordLength   = 1000
	c4MinNumSentences = 5
)

var (
	c4CitationRe       = regexp.MustCompile(`\[\d*]|\[edit]|\[citation needed]`)
	c4EndPunctuation   = []string{".", "?", "!", `"`, "'"}
	c4PolicySubstrings = []string{
		"terms of use", "privacy policy", "cookie policy",
		"uses cookies", "use of cookies", "use cookies",
	}
)

func endsWithAny(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func hasTerminalPunctuation(line string) bool {
	if strings.HasSuffix(line, "...") {
		return false
	}
	return endsWithAny(line, c4EndPunctuation)
}

// countSentences approximates sentence tokenization by counting runs of
// terminal punctuation. A non-empty line without any counts as one.
func countSentences(line string) int {
	n := 0
	inTerminal := false
	for _, r := range line {
		switch r {
		case '.', '!', '?', '…':
			if !inTerminal {
				n++
			}
			inTerminal = true
		default:
			inTerminal = false
		}
	}
	if n == 0 && strings.TrimSpace(line) != "" {
		n = 1
	}
	return n
}

// NewC4QualityFilter applies the C4 line-level cleaning rules and the
// document-level rejections. Surviving lines replace the document text.
func NewC4QualityFilter() *FilterStep {
	fn := func(doc *Document) (bool, string) {
		lines := strings.Split(doc.Text, "\n")
		var kept []string
		sentences := 0
		for _, raw := range lines {
			line := strings.TrimSpace(raw)
			words := strings.Fields(line)

			tooLong := false
			for _, w := range words {
				if utf8.RuneCountInString(w) > c4MaxWordLength {
					tooLong = true
					break
				}
			}
			if tooLong {
				continue
			}

			line = c4CitationRe.ReplaceAllString(line, "")
			if !hasTerminalPunctuation(line) {
				continue
			}
			if len(words) < c4MinWordsPerLine {
				continue
			}

			lower := strings.ToLower(line)
			if strings.Contains(lower, "lorem ipsum") {
				return false, "lorem_ipsum"
			}
			if strings.Contains(lower, "javascript") {
				continue
			}
			if strings.Contains(line, "{") {
				return false, "curly_bracket"
			}
			policy := false
			for _, p := range c4PolicySubstrings {
				if strings.Contains(lower, p) {
					policy = true
					break
				}
			}
			if policy {
				continue
			}

			sentences += countSentences(line)
			kept = append(kept, line)
		}
		if sentences < c4MinNumSentences {
			return false, "too_few_sentences"
		}
		doc.Text = strings.TrimSpace(strings.Join(kept, "\n"))
		return true, ""
	}
	return NewFilterStep("c4_quality_filter", fn)
}

const (
	fineWebLinePunctThr    = 0.12
	fineWebShortLineThr    = 0.67
	fineWebShortLineLength = 30
	fineWebCharDupRatio    = 0.01
	fineWebNewLineRatio    = 0.3
)

var fineWebStopChars = []string{".", "'", `"`, "!", "?"}

// NewFineWebQualityFilter drops documents with too few punctuated lines,
// too many short lines, duplicated line content, or list-like newline
// density.
func NewFineWebQualityFilter() *FilterStep {
	fn := func(doc *Document) (bool, string) {
		lines := strings.Split(doc.Text, "\n")
		punctLines, shortLines := 0, 0
		for _, line := range lines {
			if endsWithAny(line, fineWebStopChars) {
				punctLines++
			}
			if utf8.RuneCountInString(line) <= fineWebShortLineLength {
				shortLines++
			}
		}
		if float64(punctLines)/float64(len(lines)) <= fineWebLinePunctThr {
			return false, "line_punct_ratio"
		}
		if float64(shortLines)/float64(len(lines)) >= fineWebShortLineThr {
			return false, "short_line_ratio"
		}

		_, dupChars := findDuplicates(lines)
		nonNewline := utf8.RuneCountInString(doc.Text) - strings.Count(doc.Text, "\n")
		if nonNewline > 0 && float64(dupChars)/float64(nonNewline) >= fineWebCharDupRatio {
			return false, "char_dup_ratio"
		}

		words := TokenizeWords(doc.Text)
		if len(words) == 0 {
			return false, "list_ratio"
		}
		if float64(strings.Count(doc.Text, "\n"))/float64(len(words)) > fineWebNewLineRatio {
			return false, "list_ratio"
		}
		return true, ""
	}
	return NewFilterStep("fineweb_quality_filter", fn)
}
