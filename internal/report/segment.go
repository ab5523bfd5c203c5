package report

import (
	"regexp"
	"strings"
)

const boundary = "## "

var numberedHeader = regexp.MustCompile(`^\d+\.`)

type Section struct {
	ID     int    `json:"id"`
	Header string `json:"header"`
	Body   string `json:"body"`
	Label  Label  `json:"label"`
}

// Segment splits a report on "## " and keeps the pieces whose first line
// starts with a number and a period. Anything before the first kept heading
// is dropped.
func Segment(text string) []Section {
	return SegmentWith(text, DefaultClassifier())
}

func SegmentWith(text string, classifier *Classifier) []Section {
	pieces := strings.Split(text, boundary)
	sections := make([]Section, 0, len(pieces))
	for _, piece := range pieces {
		header, content, _ := strings.Cut(piece, "\n")
		header = strings.TrimRight(header, " \t\r")
		if !numberedHeader.MatchString(header) {
			continue
		}
		sections = append(sections, Section{
			ID:     len(sections),
			Header: header,
			Body:   boundary + piece,
			Label:  classifier.Classify(header, content),
		})
	}
	return sections
}

// Reassemble concatenates section bodies in order.
func Reassemble(sections []Section) string {
	var b strings.Builder
	for _, section := range sections {
		b.WriteString(section.Body)
	}
	return b.String()
}
