// Package canon maps the historical spellings of an item id onto one
// canonical id. It is applied once, where reward specs and inventories enter
// the ledger.
package canon

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds case and compatibility forms, then maps separators
// (space, underscore, dot, slash) to single hyphens and drops other
// punctuation. "Golden_Key", "golden key" and "ＧＯＬＤＥＮ-KEY" all become
// "golden-key".
func Normalize(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '/' || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}

// Canonicalizer resolves normalized ids through a table of renamed items.
// It is immutable after construction and safe for concurrent use.
type Canonicalizer struct {
	aliases map[string]string
}

// New builds a Canonicalizer. Alias keys and targets are normalized; chains
// (a -> b -> c) resolve to the final target.
func New(aliases map[string]string) *Canonicalizer {
	c := &Canonicalizer{aliases: make(map[string]string, len(aliases))}
	for from, to := range aliases {
		nf, nt := Normalize(from), Normalize(to)
		if nf == "" || nt == "" || nf == nt {
			continue
		}
		c.aliases[nf] = nt
	}
	return c
}

// ItemID returns the canonical id for raw, or "" when raw has no letters or
// digits.
func (c *Canonicalizer) ItemID(raw string) string {
	id := Normalize(raw)
	if c == nil {
		return id
	}
	for hops := 0; hops <= len(c.aliases); hops++ {
		next, ok := c.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}
