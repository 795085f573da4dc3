package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LinkCache remembers the last working link per car family so a connect
// without an address goes straight back to the same car.
type LinkCache struct {
	mu   sync.Mutex
	path string
	m    map[string]Target
}

// NewLinkCache loads path if it exists. An empty path keeps the cache in
// memory only.
func NewLinkCache(path string) *LinkCache {
	lc := &LinkCache{path: path, m: map[string]Target{}}
	lc.load()
	return lc
}

func (lc *LinkCache) Get(family string) Target {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.m[strings.ToLower(family)]
}

func (lc *LinkCache) Set(family string, t Target) {
	family = strings.ToLower(strings.TrimSpace(family))
	if family == "" || t.Address == "" {
		return
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.m[family] == t {
		return
	}
	lc.m[family] = t
	_ = lc.saveLocked()
}

func (lc *LinkCache) load() {
	if lc.path == "" {
		return
	}
	b, err := os.ReadFile(lc.path)
	if err != nil {
		return
	}
	var m map[string]Target
	if json.Unmarshal(b, &m) == nil && m != nil {
		lc.m = m
	}
}

func (lc *LinkCache) saveLocked() error {
	if lc.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(lc.path), 0o755); err != nil {
		return err
	}
	// encoding/json sorts map keys, so the file is stable.
	b, err := json.MarshalIndent(lc.m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(lc.path, b, 0o644)
}
