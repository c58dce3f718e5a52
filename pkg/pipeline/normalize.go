package pipeline

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TextNormalizer repairs the usual extraction damage before the filters
// measure anything: mixed line endings, byte order marks, zero-width
// characters, stray control characters, and denormalized unicode.
type TextNormalizer struct{}

func NewTextNormalizer() *TextNormalizer { return &TextNormalizer{} }

func (n *TextNormalizer) Name() string { return "text_normalizer" }

func (n *TextNormalizer) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	ss := task.Stats.Step(n.Name())
	for doc := range in {
		ss.Input++
		doc.Text = NormalizeText(doc.Text)
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}

// NormalizeText applies NFC normalization, converts line endings to \n,
// maps non-breaking spaces to plain spaces, and strips BOMs, zero-width
// characters, replacement characters, and control characters other than
// newline and tab.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D':
		case r == unicode.ReplacementChar:
		case r == '\u00A0':
			b.WriteByte(' ')
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
