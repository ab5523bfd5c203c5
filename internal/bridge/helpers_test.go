package bridge

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/borsabridge/control-plane/internal/store"
	"github.com/borsabridge/control-plane/internal/store/memory"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func pngBase64() string {
	return base64.StdEncoding.EncodeToString(pngHeader)
}

type storeOp struct {
	op   string
	path string
	doc  store.Document
}

// recordingStore logs every call and can fail chosen operations.
type recordingStore struct {
	*memory.MemoryStore
	mu   sync.Mutex
	ops  []storeOp
	fail map[string]error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: memory.New(), fail: map[string]error{}}
}

func (r *recordingStore) record(op, path string, doc store.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, storeOp{op: op, path: path, doc: doc})
	return r.fail[op]
}

func (r *recordingStore) Get(ctx context.Context, path string) (store.Document, error) {
	if err := r.record("get", path, nil); err != nil {
		return nil, err
	}
	return r.MemoryStore.Get(ctx, path)
}

func (r *recordingStore) Set(ctx context.Context, path string, doc store.Document) error {
	if err := r.record("set", path, doc); err != nil {
		return err
	}
	return r.MemoryStore.Set(ctx, path, doc)
}

func (r *recordingStore) Update(ctx context.Context, path string, fields store.Document) error {
	if err := r.record("update", path, fields); err != nil {
		return err
	}
	return r.MemoryStore.Update(ctx, path, fields)
}

func (r *recordingStore) Delete(ctx context.Context, path string) error {
	if err := r.record("delete", path, nil); err != nil {
		return err
	}
	return r.MemoryStore.Delete(ctx, path)
}

func (r *recordingStore) writes() []storeOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storeOp
	for _, op := range r.ops {
		if op.op != "get" {
			out = append(out, op)
		}
	}
	return out
}

func (r *recordingStore) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func frozenClock() func() time.Time {
	fixed := time.Unix(1_700_000_000, 0)
	return func() time.Time { return fixed }
}

func symbolOptional(types ...string) func(string) bool {
	optional := map[string]bool{}
	for _, t := range types {
		optional[t] = true
	}
	return func(requestType string) bool { return !optional[requestType] }
}

func newTestEngine(t *testing.T, st store.Store, opts Options) *Engine {
	t.Helper()
	if opts.Stamper == nil {
		opts.Stamper = NewStamper(frozenClock())
	}
	if opts.RequiresSymbol == nil {
		opts.RequiresSymbol = symbolOptional("sinyal", "endeks")
	}
	return New(st, opts)
}
