package analysis

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/borsabridge/control-plane/internal/secrets"
)

// KeyPool rotates through API keys. Keys that failed with an auth or quota
// error sit in a cooldown cache and are skipped until it expires.
type KeyPool struct {
	mu       sync.Mutex
	keys     []string
	index    int
	cooldown *cache.Cache
	ttl      time.Duration
}

func NewKeyPool(keys []string, cooldown time.Duration) *KeyPool {
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &KeyPool{
		keys:     dedupeKeys(keys),
		cooldown: cache.New(cooldown, cooldown),
		ttl:      cooldown,
	}
}

func dedupeKeys(keys []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// ErrSealedKey is returned when the key file holds sealed lines but no
// secret was configured to open them.
var ErrSealedKey = errors.New("key file holds sealed keys but KEY_FILE_SECRET is not set")

// KeyFile is the on-disk key list, one key per line. With a Secret, Save
// seals every key and Load opens sealed lines; plain lines are accepted
// either way.
type KeyFile struct {
	Path   string
	Secret []byte
}

// Load reads the file. A missing file or an empty path yields no keys.
func (f KeyFile) Load() ([]string, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, nil
	}
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var keys []string
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		value := strings.TrimSpace(scanner.Text())
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		if secrets.IsSealed(value) {
			if f.Secret == nil {
				return nil, ErrSealedKey
			}
			value, err = secrets.Open(f.Secret, value)
			if err != nil {
				return nil, fmt.Errorf("open sealed key on line %d: %w", line, err)
			}
		}
		keys = append(keys, value)
	}
	return keys, scanner.Err()
}

// Save writes keys with owner-only permissions.
func (f KeyFile) Save(keys []string) error {
	lines := dedupeKeys(keys)
	if f.Secret != nil {
		for i, key := range lines {
			sealed, err := secrets.Seal(f.Secret, key)
			if err != nil {
				return fmt.Errorf("seal key: %w", err)
			}
			lines[i] = sealed
		}
	}
	return os.WriteFile(f.Path, []byte(strings.Join(lines, "\n")), 0o600)
}

func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func (p *KeyPool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Replace swaps in a new key list and clears rotation state.
func (p *KeyPool) Replace(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = dedupeKeys(keys)
	p.index = 0
	p.cooldown.Flush()
}

// Current returns the first key at or after the rotation index that is not
// cooling down.
func (p *KeyPool) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.keys); i++ {
		candidate := (p.index + i) % len(p.keys)
		key := p.keys[candidate]
		if _, cooling := p.cooldown.Get(key); cooling {
			continue
		}
		p.index = candidate
		return key, true
	}
	return "", false
}

func (p *KeyPool) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return
	}
	p.index = (p.index + 1) % len(p.keys)
}

// MarkFailed cools a key down and moves the rotation past it.
func (p *KeyPool) MarkFailed(key string) {
	p.cooldown.Set(key, struct{}{}, p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) > 0 && p.keys[p.index%len(p.keys)] == key {
		p.index = (p.index + 1) % len(p.keys)
	}
}

func (p *KeyPool) CoolingDown(key string) bool {
	_, cooling := p.cooldown.Get(key)
	return cooling
}

// MaskKey keeps the first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
