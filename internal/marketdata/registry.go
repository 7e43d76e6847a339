package marketdata

import (
	"sort"
	"strings"
	"sync"
)

// ChainPrefix marks registry keys that represent option-chain interest for an
// underlying rather than a single symbol.
const ChainPrefix = "chain:"

// ChainKey builds the registry key for option-chain interest in an underlying.
func ChainKey(underlying string) string { return ChainPrefix + underlying }

// IsChainKey reports whether a registry key is an option-chain key and
// returns the underlying.
func IsChainKey(key string) (string, bool) {
	if strings.HasPrefix(key, ChainPrefix) {
		return strings.TrimPrefix(key, ChainPrefix), true
	}
	return "", false
}

// Registry is the reference-counted set of symbols currently of interest.
// Adding or removing consumers never tears down the feed until the last
// interested party releases its handle.
type Registry struct {
	mu   sync.Mutex
	refs map[string]int

	// onFirst fires when a key goes 0 -> 1 refs, onLast when it drops back
	// to 0. Both run outside the registry lock.
	onFirst func(key string)
	onLast  func(key string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{refs: make(map[string]int)}
}

// SetHooks installs the first/last interest callbacks. Must be called before
// the registry is shared.
func (r *Registry) SetHooks(onFirst, onLast func(key string)) {
	r.onFirst = onFirst
	r.onLast = onLast
}

// Subscription is the handle returned from Subscribe. Release is the only way
// to decrement the ref count and is idempotent per handle.
type Subscription struct {
	key  string
	reg  *Registry
	once sync.Once
}

// Key returns the registry key this handle holds interest in.
func (s *Subscription) Key() string { return s.key }

// Release drops this handle's interest. Calling it more than once has no
// further effect.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.reg.release(s.key)
	})
}

// Subscribe declares interest in a key and returns the handle that owns the
// reference.
func (r *Registry) Subscribe(key string) *Subscription {
	r.mu.Lock()
	r.refs[key]++
	first := r.refs[key] == 1
	r.mu.Unlock()

	if first && r.onFirst != nil {
		r.onFirst(key)
	}
	return &Subscription{key: key, reg: r}
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	last := false
	if n, ok := r.refs[key]; ok {
		if n <= 1 {
			delete(r.refs, key)
			last = true
		} else {
			r.refs[key] = n - 1
		}
	}
	r.mu.Unlock()

	if last && r.onLast != nil {
		r.onLast(key)
	}
}

// Keys returns all keys with at least one reference, sorted for stable
// subscribe replay.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.refs))
	for k := range r.refs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Symbols returns the plain symbol keys (option-chain keys excluded).
func (r *Registry) Symbols() []string {
	keys := r.Keys()
	out := keys[:0]
	for _, k := range keys {
		if _, chain := IsChainKey(k); !chain {
			out = append(out, k)
		}
	}
	return out
}

// Underlyings returns the underlyings with option-chain interest.
func (r *Registry) Underlyings() []string {
	var out []string
	for _, k := range r.Keys() {
		if u, chain := IsChainKey(k); chain {
			out = append(out, u)
		}
	}
	return out
}

// Count returns the ref count for a key.
func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[key]
}

// Active returns the number of keys with at least one reference.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}
