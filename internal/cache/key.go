package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Version is the cache format version. Bump it whenever the shape of cached
// agent results changes so stale entries stop matching.
const Version = "1.0"

// Key identifies one cached agent result. Two keys hash identically iff
// every field, including the full input map, is equal.
type Key struct {
	Agent   string         `json:"agent_name"`
	Model   string         `json:"model"`
	Input   map[string]any `json:"input_data"`
	Version string         `json:"version"`
}

// NewKey builds a Key with the current cache format version.
func NewKey(agent, model string, input map[string]any) Key {
	return Key{Agent: agent, Model: model, Input: input, Version: Version}
}

// Hash returns the hex digest of the key's canonical JSON form. Object keys
// are serialized sorted at every nesting level, so the digest does not
// depend on map insertion order.
func (k Key) Hash() string {
	canonical := canonicalize(map[string]any{
		"agent_name": k.Agent,
		"model":      k.Model,
		"input_data": k.Input,
		"version":    k.Version,
	})
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// canonicalize renders v as deterministic JSON: maps are emitted with sorted
// keys, everything else through encoding/json.
func canonicalize(v any) string {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + canonicalize(vv[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, item := range vv {
			if i > 0 {
				out += ","
			}
			out += canonicalize(item)
		}
		return out + "]"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprintf("%v", v))
		}
		return string(b)
	}
}
