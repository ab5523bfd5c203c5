package session

import (
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/events"
	"github.com/borsabridge/control-plane/internal/report"
)

type SectionView struct {
	report.Section
	Included bool `json:"included"`
}

type ReportView struct {
	Sections []SectionView `json:"sections"`
	Counts   report.Counts `json:"counts"`
	Included int           `json:"included"`
}

type ImageInfo struct {
	Index int    `json:"index"`
	MIME  string `json:"mime"`
	Size  int    `json:"size"`
}

type Snapshot struct {
	Flow      bridge.Flow `json:"flow"`
	Bot       catalog.Bot `json:"bot"`
	Images    []ImageInfo `json:"images"`
	Analyzing bool        `json:"analyzing"`
	Report    *ReportView `json:"report,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	images := make([]ImageInfo, 0, len(s.images))
	for i, image := range s.images {
		images = append(images, ImageInfo{Index: i, MIME: image.MIME, Size: len(image.Data)})
	}
	snap := Snapshot{
		Flow:      s.engine.Flow(),
		Bot:       s.bot,
		Images:    images,
		Analyzing: s.analyzing,
	}
	if s.filter != nil {
		view := s.reportView()
		snap.Report = &view
	}
	return snap
}

func (s *Session) Report() (ReportView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return ReportView{}, ErrNoReport
	}
	return s.reportView(), nil
}

// Markdown returns the included section bodies in report order.
func (s *Session) Markdown() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return "", ErrNoReport
	}
	return s.filter.Markdown(), nil
}

func (s *Session) SelectByLabel(label report.Label) (ReportView, error) {
	return s.updateFilter(func(f *report.Filter) error {
		f.SelectByLabel(label)
		return nil
	})
}

func (s *Session) SelectAll() (ReportView, error) {
	return s.updateFilter(func(f *report.Filter) error {
		f.SelectAll()
		return nil
	})
}

func (s *Session) ClearAll() (ReportView, error) {
	return s.updateFilter(func(f *report.Filter) error {
		f.ClearAll()
		return nil
	})
}

func (s *Session) Toggle(id int) (ReportView, error) {
	return s.updateFilter(func(f *report.Filter) error {
		return f.Toggle(id)
	})
}

func (s *Session) updateFilter(apply func(*report.Filter) error) (ReportView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return ReportView{}, ErrNoReport
	}
	if err := apply(s.filter); err != nil {
		return ReportView{}, err
	}
	view := s.reportView()
	s.broker.Publish(events.Event{
		Type: events.TypeReportFilterChanged,
		Payload: map[string]any{
			"included": view.Included,
			"flags":    s.filter.Flags(),
		},
	})
	return view, nil
}

func (s *Session) reportView() ReportView {
	sections := s.filter.Sections()
	flags := s.filter.Flags()
	view := ReportView{
		Sections: make([]SectionView, 0, len(sections)),
		Counts:   s.filter.Counts(),
	}
	for i, section := range sections {
		view.Sections = append(view.Sections, SectionView{Section: section, Included: flags[i]})
		if flags[i] {
			view.Included++
		}
	}
	return view
}
