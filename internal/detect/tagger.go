package detect

import (
	"strings"
	"unicode"
)

// Tagger extracts skill mentions from free-text feedback. The default is
// a fixed-vocabulary substring matcher; it is deliberately pluggable so a
// better classifier can replace it without touching cluster aggregation.
type Tagger interface {
	Tags(text string) []string
}

// Controlled vocabulary of technical and soft-skill terms. Matching is a
// known-imprecise heuristic; terms prone to substring noise (e.g. "go")
// are kept out.
var defaultVocabulary = []string{
	// technical
	"system design",
	"algorithms",
	"data structures",
	"sql",
	"nosql",
	"python",
	"golang",
	"javascript",
	"typescript",
	"react",
	"kubernetes",
	"docker",
	"aws",
	"terraform",
	"microservices",
	"api design",
	"distributed systems",
	"machine learning",
	"concurrency",
	"debugging",
	"testing",
	"security",
	"ci/cd",
	// soft skills
	"communication",
	"leadership",
	"teamwork",
	"ownership",
	"collaboration",
	"time management",
	"presentation",
	"negotiation",
	"problem solving",
	"stakeholder management",
	"mentoring",
	"adaptability",
}

// VocabularyTagger matches feedback text against a fixed term list.
type VocabularyTagger struct {
	vocabulary []string
}

func NewVocabularyTagger() VocabularyTagger {
	return VocabularyTagger{vocabulary: defaultVocabulary}
}

func (vt VocabularyTagger) Tags(text string) []string {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var tags []string
	for _, term := range vt.vocabulary {
		if strings.Contains(lowered, term) {
			tags = append(tags, NormalizeSkill(term))
		}
	}
	return tags
}

// NormalizeSkill lowercases a token, collapses runs of non-alphanumerics
// to single underscores, and trims the edges: "System Design" and
// "system-design" both become "system_design".
func NormalizeSkill(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
