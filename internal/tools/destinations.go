package tools

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxgate/voxgate/internal/config"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a spoken name to
// resolve to a destination key.
const fuzzyThreshold = 0.84

// Resolver maps spoken destination names to entries of the configured
// destination map. Resolution tries, in order: the exact key, the exact
// routing target (digits), and a fuzzy match on the key treated as words.
type Resolver struct {
	dests map[string]config.Destination
	keys  []string
}

// NewResolver creates a resolver over the configured destinations.
func NewResolver(dests map[string]config.Destination) *Resolver {
	keys := make([]string, 0, len(dests))
	for k := range dests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Resolver{dests: dests, keys: keys}
}

// Names returns the destination keys in sorted order, for error messages and
// STT keyword hints.
func (r *Resolver) Names() []string {
	return append([]string(nil), r.keys...)
}

// Resolve finds the destination the caller asked for. ok is false when
// nothing matches confidently.
func (r *Resolver) Resolve(spoken string) (key string, dest config.Destination, ok bool) {
	normalized := normalizeDestination(spoken)
	if normalized == "" {
		return "", config.Destination{}, false
	}

	if d, found := r.dests[normalized]; found {
		return normalized, d, true
	}

	// Spoken digits may be the routing target itself ("extension 6001").
	digits := digitsOnly(spoken)
	if digits != "" {
		for _, k := range r.keys {
			if r.dests[k].Target == digits {
				return k, r.dests[k], true
			}
		}
	}

	var (
		bestKey   string
		bestScore float64
	)
	for _, k := range r.keys {
		if score := similarity(normalized, k); score > bestScore {
			bestKey, bestScore = k, score
		}
	}
	if bestScore >= fuzzyThreshold {
		return bestKey, r.dests[bestKey], true
	}
	return "", config.Destination{}, false
}

// similarity scores a spoken name against a destination key using the best
// of full-string, concatenated, and pairwise-token Jaro-Winkler comparisons,
// so "the sales team" still lands on "sales_team".
func similarity(spoken, key string) float64 {
	spokenTokens := strings.Split(spoken, "_")
	keyTokens := strings.Split(key, "_")

	score := matchr.JaroWinkler(spoken, key, false)
	if s := matchr.JaroWinkler(strings.Join(spokenTokens, ""), strings.Join(keyTokens, ""), false); s > score {
		score = s
	}
	if len(spokenTokens) > 1 || len(keyTokens) > 1 {
		matched := 0
		total := 0.0
		for _, kt := range keyTokens {
			best := 0.0
			for _, st := range spokenTokens {
				if s := matchr.JaroWinkler(st, kt, false); s > best {
					best = s
				}
			}
			if best >= fuzzyThreshold {
				matched++
			}
			total += best
		}
		if matched == len(keyTokens) {
			if s := total / float64(len(keyTokens)); s > score {
				score = s
			}
		}
	}
	return score
}

// normalizeDestination lowercases and collapses separators so "the Sales
// Team" becomes "sales_team". Leading articles are dropped.
func normalizeDestination(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastSep := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	for _, article := range []string{"the_", "a_", "an_"} {
		if rest, found := strings.CutPrefix(out, article); found {
			out = rest
			break
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
