// Package fingerprint derives stable cache keys from prediction requests.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/predyx-ai/predyx/pkg/models"
)

// New computes a deterministic fingerprint for a request. Requests that
// differ only in symbol order, symbol case, duplicate symbols, or parameter
// order produce the same fingerprint.
func New(req models.PredictionRequest) (string, error) {
	if len(req.Symbols) == 0 && req.Prompt == "" {
		return "", fmt.Errorf("empty request: no symbols and no prompt")
	}

	h := sha256.New()

	for _, s := range normalizeSymbols(req.Symbols) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})

	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.QueryType))))
	h.Write([]byte{1})

	h.Write([]byte(strings.TrimSpace(req.Prompt)))
	h.Write([]byte{1})

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(req.Params[k]))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// normalizeSymbols upper-cases, de-duplicates and sorts the symbol list.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
