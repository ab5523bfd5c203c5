package report

import (
	"fmt"
	"strings"
)

type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

func ParseLabel(value string) (Label, error) {
	switch Label(strings.ToLower(strings.TrimSpace(value))) {
	case LabelPositive:
		return LabelPositive, nil
	case LabelNegative:
		return LabelNegative, nil
	case LabelNeutral:
		return LabelNeutral, nil
	}
	return "", fmt.Errorf("unknown label %q", value)
}

// Candidate is a section already run through Normalize.
type Candidate struct {
	Header  string
	Content string
}

// Matcher returns ok=false when it has no opinion.
type Matcher func(c Candidate) (Label, bool)

// Inline tags are matched against normalized text, hence NOTR without the
// diaeresis.
var explicitTags = []struct {
	tag   string
	label Label
}{
	{"[OLUMSUZ]", LabelNegative},
	{"[OLUMLU]", LabelPositive},
	{"[NOTR]", LabelNeutral},
}

func TagMatcher(c Candidate) (Label, bool) {
	for _, t := range explicitTags {
		if strings.Contains(c.Header, t.tag) {
			return t.label, true
		}
	}
	return "", false
}

// Keyword stems, already normalized. A stem matches any word it prefixes.
var (
	PositiveKeywords = []string{
		"YUKSELIS", "YUKSELEN", "POZITIF", "GUCLU", "ALIM", "ALICI", "DESTEK",
		"FIRSAT", "BOGA", "HEDEF", "TOPLAYAN", "TOPLAMA", "AKUMULASYON", "RALLI", "KAZANC",
		"GIRIS", "OLUMLU", "TREND DONUSU",
	}
	NegativeKeywords = []string{
		"DUSUS", "DUSEN", "NEGATIF", "ZAYIF", "SATIS", "SATICI", "BASKI",
		"DIRENC", "RISK", "TUZA", "AYI", "ZARAR", "STOP", "COKUS", "CIKIS",
		"FAKE", "SAHTE", "TEHLIKE", "OLUMSUZ",
	}
)

type keywordSet struct {
	single []string
	phrase []string
}

func newKeywordSet(stems []string) keywordSet {
	var set keywordSet
	for _, stem := range stems {
		if strings.Contains(stem, " ") {
			set.phrase = append(set.phrase, stem)
			continue
		}
		set.single = append(set.single, stem)
	}
	return set
}

func (k keywordSet) matches(tokens []string, joined string) bool {
	for _, token := range tokens {
		for _, stem := range k.single {
			if strings.HasPrefix(token, stem) {
				return true
			}
		}
	}
	for _, phrase := range k.phrase {
		if strings.Contains(joined, phrase) {
			return true
		}
	}
	return false
}

// KeywordMatcher labels text by which keyword set it hits. Both sets hitting
// is a tie and resolves to neutral; neither is no opinion.
func KeywordMatcher(positive, negative []string, pick func(Candidate) string) Matcher {
	pos := newKeywordSet(positive)
	neg := newKeywordSet(negative)
	return func(c Candidate) (Label, bool) {
		tokens := words(pick(c))
		joined := " " + strings.Join(tokens, " ") + " "
		hitPos := pos.matches(tokens, joined)
		hitNeg := neg.matches(tokens, joined)
		switch {
		case hitPos && hitNeg:
			return LabelNeutral, true
		case hitPos:
			return LabelPositive, true
		case hitNeg:
			return LabelNegative, true
		}
		return "", false
	}
}

func headerText(c Candidate) string  { return c.Header }
func contentText(c Candidate) string { return c.Content }

// Classifier runs matchers in order; the first opinion wins and the fallback
// is neutral.
type Classifier struct {
	matchers []Matcher
}

func NewClassifier(matchers ...Matcher) *Classifier {
	return &Classifier{matchers: matchers}
}

// DefaultClassifier checks the explicit tag, then header keywords, then
// keywords in the section content.
func DefaultClassifier() *Classifier {
	return NewClassifier(
		TagMatcher,
		KeywordMatcher(PositiveKeywords, NegativeKeywords, headerText),
		KeywordMatcher(PositiveKeywords, NegativeKeywords, contentText),
	)
}

func (c *Classifier) Classify(header, content string) Label {
	candidate := Candidate{Header: Normalize(header), Content: Normalize(content)}
	for _, match := range c.matchers {
		if label, ok := match(candidate); ok {
			return label
		}
	}
	return LabelNeutral
}
