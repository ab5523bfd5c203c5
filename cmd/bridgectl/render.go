package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/session"
)

const (
	defaultWrap = 80
	maxWrap     = 120
)

// terminalWidth is replaced in tests.
var terminalWidth = func() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWrap
	}
	width -= 4
	if width > maxWrap {
		width = maxWrap
	}
	return width
}

// renderMarkdown styles the report for the terminal. Style "notty" yields
// uncolored output.
func renderMarkdown(markdown, style string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return rendered, nil
}

func printFlow(w io.Writer, flow bridge.Flow) {
	fmt.Fprintf(w, "step:    %s\n", flow.Step)
	if flow.Symbol != "" {
		fmt.Fprintf(w, "symbol:  %s\n", flow.Symbol)
	}
	if flow.Step == bridge.StepShowButtons {
		for i, option := range flow.Options {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, option)
		}
	}
}

func printSnapshot(w io.Writer, snap session.Snapshot) {
	printFlow(w, snap.Flow)
	fmt.Fprintf(w, "bot:     %s (%s)\n", snap.Bot.Key, snap.Bot.Username)
	fmt.Fprintf(w, "images:  %d\n", len(snap.Images))
	for _, image := range snap.Images {
		fmt.Fprintf(w, "  #%d %s %d bytes\n", image.Index, image.MIME, image.Size)
	}
	if snap.Analyzing {
		fmt.Fprintln(w, "analysis: running")
	}
	if snap.Report != nil {
		printReportSummary(w, *snap.Report)
	}
}

func printReportSummary(w io.Writer, view session.ReportView) {
	fmt.Fprintf(w, "report:  %d sections, %d included (positive %d, negative %d, neutral %d)\n",
		len(view.Sections), view.Included, view.Counts.Positive, view.Counts.Negative, view.Counts.Neutral)
}

func printSections(w io.Writer, view session.ReportView) {
	printReportSummary(w, view)
	for _, section := range view.Sections {
		mark := " "
		if section.Included {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %2d %-8s %s\n", mark, section.ID, section.Label, section.Header)
	}
}
