package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/borsabridge/control-plane/internal/bridge"
)

var ErrNoFixture = errors.New("no fixture for request")

// FixtureFetcher serves canned images from a directory. Files are named
// <SYMBOL>_<type>.<ext> or <type>.<ext> for symbol-less requests. A symbol
// that prefixes several fixture symbols yields those symbols as options.
type FixtureFetcher struct {
	dir         string
	uploadTypes map[string]struct{}
}

func NewFixtureFetcher(dir string, uploadTypes []string) *FixtureFetcher {
	types := make(map[string]struct{}, len(uploadTypes))
	for _, t := range uploadTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types[t] = struct{}{}
		}
	}
	return &FixtureFetcher{dir: dir, uploadTypes: types}
}

type fixture struct {
	symbol string
	path   string
}

func (f *FixtureFetcher) Fetch(ctx context.Context, req bridge.Request) (Result, error) {
	requestType := strings.ToLower(strings.TrimSpace(req.Type))
	if _, ok := f.uploadTypes[requestType]; ok {
		return Result{NeedsUpload: true}, nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Selection))
	if symbol == "" {
		symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	}

	fixtures, err := f.scan(requestType)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if exact, ok := fixtures[symbol]; ok {
		return f.load(exact)
	}
	if symbol == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNoFixture, requestType)
	}
	var matches []string
	for candidate := range fixtures {
		if candidate != "" && strings.HasPrefix(candidate, symbol) {
			matches = append(matches, candidate)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 0:
		return Result{}, fmt.Errorf("%w: %s %s", ErrNoFixture, symbol, requestType)
	case 1:
		return f.load(fixtures[matches[0]])
	}
	return Result{Options: matches}, nil
}

// scan maps fixture symbols to files for one request type. The symbol-less
// fixture is stored under "".
func (f *FixtureFetcher) scan(requestType string) (map[string]fixture, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read fixture dir: %w", err)
	}
	found := map[string]fixture{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		symbol, fixtureType, hasSymbol := strings.Cut(stem, "_")
		if !hasSymbol {
			symbol, fixtureType = "", stem
		}
		if strings.ToLower(fixtureType) != requestType {
			continue
		}
		symbol = strings.ToUpper(symbol)
		found[symbol] = fixture{symbol: symbol, path: filepath.Join(f.dir, name)}
	}
	return found, nil
}

func (f *FixtureFetcher) load(fx fixture) (Result, error) {
	data, err := os.ReadFile(fx.path)
	if err != nil {
		return Result{}, fmt.Errorf("read fixture: %w", err)
	}
	if detected := mimetype.Detect(data); !strings.HasPrefix(detected.String(), "image/") {
		return Result{}, fmt.Errorf("fixture %s is %s, not an image", filepath.Base(fx.path), detected.String())
	}
	return Result{Image: data}, nil
}
