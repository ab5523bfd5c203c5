package social

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Mode string

const (
	// ModeHistorical finds popular posts for one calendar day.
	ModeHistorical Mode = "historical"
	ModeLive       Mode = "live"
)

var (
	ErrTickerRequired = errors.New("ticker is required")
	ErrUnknownMode    = errors.New("unknown search mode")
)

const searchBase = "https://x.com/search"

const minFaves = 5

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeHistorical:
		return ModeHistorical, nil
	case ModeLive, "":
		return ModeLive, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, value)
}

// CleanTicker strips hashtags and whitespace and uppercases the rest.
func CleanTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(ticker, "#", "")))
}

// SearchURL builds an X search link for a ticker hashtag in Turkish posts.
// date is only used in historical mode.
func SearchURL(ticker string, mode Mode, date time.Time) (string, error) {
	clean := CleanTicker(ticker)
	if clean == "" {
		return "", ErrTickerRequired
	}
	var query, filter string
	switch mode {
	case ModeHistorical:
		day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		query = fmt.Sprintf("#%s lang:tr until:%s since:%s min_faves:%d",
			clean,
			day.AddDate(0, 0, 1).Format(time.DateOnly),
			day.Format(time.DateOnly),
			minFaves,
		)
		filter = "top"
	case ModeLive:
		query = fmt.Sprintf("#%s lang:tr", clean)
		filter = "live"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	values := url.Values{}
	values.Set("q", query)
	values.Set("src", "typed_query")
	values.Set("f", filter)
	return searchBase + "?" + values.Encode(), nil
}
