package dedup

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
)

// IdentityParams are the query parameters that identify an item. Every other
// parameter (tracking, session, spm tokens) is dropped during canonicalization.
var IdentityParams = []string{"id", "itemId"}

// Canonicalize reduces a listing link to a stable form: lower-case scheme and
// host, no fragment, user info, default port or trailing slash, and only the
// identity query parameters in sorted order. Unparseable input is returned
// trimmed.
func Canonicalize(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")

	q := u.Query()
	kept := url.Values{}
	for _, p := range IdentityParams {
		if v := q.Get(p); v != "" {
			kept.Set(p, v)
		}
	}

	out := scheme + "://" + host + path
	if len(kept) > 0 {
		out += "?" + encodeSorted(kept)
	}
	return out
}

func encodeSorted(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v.Get(k)))
	}
	return strings.Join(parts, "&")
}

// Key returns the dedup key for a link: hex SHA-256 of its canonical form.
func Key(link string) string {
	sum := sha256.Sum256([]byte(Canonicalize(link)))
	return hex.EncodeToString(sum[:])
}

// Store is an in-memory set of seen keys for one task. It is append-only and
// safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// LoadStats reports how a bootstrap went.
type LoadStats struct {
	Loaded  int
	Skipped int
}

// linkOnly decodes just enough of a persisted record to recover its link.
type linkOnly struct {
	Item struct {
		Link string `json:"link"`
	} `json:"item"`
}

// Load bootstraps the store from a JSONL stream of persisted records.
// Malformed lines and records without a link are counted and skipped.
func (s *Store) Load(r io.Reader) (LoadStats, error) {
	var stats LoadStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec linkOnly
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Item.Link == "" {
			stats.Skipped++
			continue
		}
		if s.Add(Key(rec.Item.Link)) {
			stats.Loaded++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("reading records: %w", err)
	}
	return stats, nil
}

// LoadFile bootstraps the store from a JSONL file. A missing file is an empty history.
func (s *Store) LoadFile(path string) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadStats{}, nil
		}
		return LoadStats{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.Load(f)
}

// Contains reports whether key has been seen.
func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Add records key. It returns true when the key was new.
func (s *Store) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
