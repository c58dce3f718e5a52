package pipeline

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// DefaultLanguageThreshold is the minimum confidence a document must
// reach for its detected language to count.
const DefaultLanguageThreshold = 0.65

// languagesByCode maps the ISO 639-1 codes accepted in configuration to
// detector languages. The set doubles as the candidate pool the detector
// discriminates between, so it covers the languages that actually show
// up in Danish web and archive crawls.
var languagesByCode = map[string]lingua.Language{
	"da": lingua.Danish,
	"de": lingua.German,
	"en": lingua.English,
	"es": lingua.Spanish,
	"fr": lingua.French,
	"nb": lingua.Bokmal,
	"nl": lingua.Dutch,
	"nn": lingua.Nynorsk,
	"sv": lingua.Swedish,
}

// LanguageByCode resolves an ISO 639-1 code like "da" to a detector
// language.
func LanguageByCode(code string) (lingua.Language, bool) {
	lang, ok := languagesByCode[strings.ToLower(code)]
	return lang, ok
}

func languageCode(lang lingua.Language) string {
	for code, l := range languagesByCode {
		if l == lang {
			return code
		}
	}
	return strings.ToLower(lang.String())
}

// NewLanguageFilter keeps documents detected as the target language with
// at least threshold confidence. The detected language and its score are
// recorded in document metadata either way, so excluded documents stay
// diagnosable.
func NewLanguageFilter(target lingua.Language, threshold float64) *FilterStep {
	if threshold <= 0 {
		threshold = DefaultLanguageThreshold
	}
	candidates := make([]lingua.Language, 0, len(languagesByCode)+1)
	seen := false
	for _, lang := range languagesByCode {
		if lang == target {
			seen = true
		}
		candidates = append(candidates, lang)
	}
	if !seen {
		candidates = append(candidates, target)
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(candidates...).
		Build()

	fn := func(doc *Document) (bool, string) {
		detected, ok := detector.DetectLanguageOf(doc.Text)
		if !ok {
			return false, "not_target_language"
		}
		score := detector.ComputeLanguageConfidence(doc.Text, detected)
		doc.SetMeta("language", languageCode(detected))
		doc.SetMeta("language_score", score)
		if detected != target || score < threshold {
			return false, "not_target_language"
		}
		return true, ""
	}
	return NewFilterStep("language_filter", fn)
}
