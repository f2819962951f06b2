package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxSuggestionDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxSuggestionDistance = 3

// knownKeys are the valid dotted keys in the config file. Unknown keys are
// fatal — silently ignoring a typo ("worker" for "workers") leads to
// hard-to-debug behavior.
var knownKeys = map[string]bool{
	"paths.input_dir":  true,
	"paths.output_dir": true,
	"paths.data_dir":   true,

	"convert.workers":             true,
	"convert.attempts":            true,
	"convert.resumable_threshold": true,
	"convert.chunk_size":          true,
	"convert.strict_types":        true,
	"convert.debounce":            true,

	"auth.client_id":           true,
	"auth.client_secret":       true,
	"auth.token_file":          true,
	"auth.service_account_key": true,

	"logging.level":  true,
	"logging.format": true,

	"network.timeout":    true,
	"network.user_agent": true,
}

// knownKeysList is the sorted slice form for deterministic suggestions when
// two candidates have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error naming each unknown key, with a suggestion where one is close.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()
		if knownKeys[keyStr] {
			continue
		}

		if suggestion := closestMatch(keyStr, knownKeysList); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", keyStr))
		}
	}

	return errors.Join(errs...)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxSuggestionDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxSuggestionDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using the
// single-row optimization to avoid allocating a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
