// Package normalize provides a deterministic canonical-key normalizer for
// repository owner/name pairs
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFKD compatibility decomposition
// 3 Case folding
// 4 Remove zero-width and combining marks
// 5 Width fold fullwidth to ASCII
// 6 NFC recomposition
// 7 Trim surrounding whitespace
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalizer is concurrency safe when used with the pool below
type Normalizer struct{}

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		// order matters and mirrors the documented pipeline
		return transform.Chain(
			norm.NFKD,                          // decompose so accents become separate marks
			cases.Fold(),                       // unicode case folding
			runes.Remove(runes.In(unicode.Mn)), // strip combining marks
			runes.Remove(runes.In(unicode.Cf)), // strip format chars ZWJ ZWNJ FEFF etc
			width.Fold,                         // map fullwidth forms to ASCII
			norm.NFC,                           // recompose what remains
		)
	},
}

// New constructs a Normalizer
func New() *Normalizer { return &Normalizer{} }

// Normalize returns the canonical form of s: UTF-8 repaired, NFKD'd, case
// and width folded, combining/format marks stripped, NFC'd, and trimmed. Used to
// build the repository key from an owner or name segment
func (n *Normalizer) Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = Sanitize(s)
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	ns, _, _ := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)

	return strings.TrimSpace(ns)
}

var shared = New()

// Segment canonicalizes a single owner or name path segment
func Segment(s string) string { return shared.Normalize(s) }

// RepoKey returns the canonical repository key for an owner/name pair: the
// lowercase, unicode-folded concatenation per the data model. Owner and name
// are normalized independently and joined with "/"; a "/" inside either raw
// segment passes through unchanged, so RepoKey("a/b", "c") and
// RepoKey("a", "b/c") produce the same key
func RepoKey(owner, name string) string {
	return Segment(owner) + "/" + Segment(name)
}
