package report

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownSection = errors.New("unknown section")

type Counts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Filter holds one inclusion flag per section. Counts come from labels only,
// never from flags.
type Filter struct {
	sections []Section
	included []bool
}

func NewFilter(sections []Section) *Filter {
	f := &Filter{
		sections: append([]Section(nil), sections...),
		included: make([]bool, len(sections)),
	}
	f.SelectAll()
	return f
}

func (f *Filter) SelectByLabel(label Label) {
	for i, section := range f.sections {
		f.included[i] = section.Label == label
	}
}

func (f *Filter) SelectAll() {
	f.setAll(true)
}

func (f *Filter) ClearAll() {
	f.setAll(false)
}

func (f *Filter) setAll(value bool) {
	for i := range f.included {
		f.included[i] = value
	}
}

func (f *Filter) Toggle(id int) error {
	index, err := f.index(id)
	if err != nil {
		return err
	}
	f.included[index] = !f.included[index]
	return nil
}

func (f *Filter) IsIncluded(id int) (bool, error) {
	index, err := f.index(id)
	if err != nil {
		return false, err
	}
	return f.included[index], nil
}

func (f *Filter) index(id int) (int, error) {
	for i, section := range f.sections {
		if section.ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownSection, id)
}

func (f *Filter) Sections() []Section {
	return append([]Section(nil), f.sections...)
}

// Included returns the flagged sections in their original order.
func (f *Filter) Included() []Section {
	out := make([]Section, 0, len(f.sections))
	for i, section := range f.sections {
		if f.included[i] {
			out = append(out, section)
		}
	}
	return out
}

func (f *Filter) Flags() []bool {
	return append([]bool(nil), f.included...)
}

func (f *Filter) Counts() Counts {
	var counts Counts
	for _, section := range f.sections {
		switch section.Label {
		case LabelPositive:
			counts.Positive++
		case LabelNegative:
			counts.Negative++
		default:
			counts.Neutral++
		}
	}
	return counts
}

// Markdown joins the included section bodies for display.
func (f *Filter) Markdown() string {
	var b strings.Builder
	for _, section := range f.Included() {
		b.WriteString(section.Body)
		if !strings.HasSuffix(section.Body, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
