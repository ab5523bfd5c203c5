package analysis

import (
	"context"
	"sync"
)

type ProbeResult struct {
	Key       string `json:"key"`
	PrimaryOK bool   `json:"primary_ok"`
	LiteOK    bool   `json:"lite_ok"`
	// Error holds the primary model failure, else the lite one.
	Error string `json:"error,omitempty"`
}

// KeyChecker runs a minimal request with one key against one model.
type KeyChecker interface {
	Check(ctx context.Context, key string, model string) error
}

// ProbeKeys checks every key against both models concurrently and returns
// results in key order with keys masked.
func ProbeKeys(ctx context.Context, checker KeyChecker, keys []string, primary string, lite string) []ProbeResult {
	results := make([]ProbeResult, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			result := ProbeResult{Key: MaskKey(key)}
			primaryErr := checker.Check(ctx, key, primary)
			liteErr := checker.Check(ctx, key, lite)
			result.PrimaryOK = primaryErr == nil
			result.LiteOK = liteErr == nil
			switch {
			case primaryErr != nil:
				result.Error = primaryErr.Error()
			case liteErr != nil:
				result.Error = liteErr.Error()
			}
			results[i] = result
		}(i, key)
	}
	wg.Wait()
	return results
}

// Prober probes the keys currently held by a pool.
type Prober struct {
	Checker KeyChecker
	Keys    *KeyPool
	Primary string
	Lite    string
}

func (p *Prober) Probe(ctx context.Context) []ProbeResult {
	if p == nil || p.Checker == nil || p.Keys == nil {
		return []ProbeResult{}
	}
	return ProbeKeys(ctx, p.Checker, p.Keys.Keys(), p.Primary, p.Lite)
}
