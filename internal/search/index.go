// Package search ranks letters against a free-text query.
//
// An Index is built once per query from the letters' prepared text and is
// read-only afterwards, so it may be shared between goroutines. The score of
// a letter is the Jaccard similarity of its term set and the query's term
// set, |Q ∩ D| / |Q ∪ D|; terms are lower-cased runs of letters and digits.
package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// defaultK is the result count when TopK is asked for k <= 0.
const defaultK = 10

// Document is one searchable letter.
type Document struct {
	ID   int64
	Text string
}

// Result is a ranked letter id.
type Result struct {
	ID    int64
	Score float64
}

// Option tunes NewIndex.
type Option func(*options)

type options struct {
	minRunes int
	maxDocs  int
	stop     terms
}

// WithMinRunes skips documents whose text is shorter than n runes.
func WithMinRunes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.minRunes = n
		}
	}
}

// WithStopwords removes words from both documents and queries.
func WithStopwords(words []string) Option {
	return func(o *options) {
		set := terms{}
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				set[w] = struct{}{}
			}
		}
		if len(set) > 0 {
			o.stop = set
		}
	}
}

// WithMaxDocs indexes at most n documents, in input order.
func WithMaxDocs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDocs = n
		}
	}
}

type entry struct {
	id    int64
	runes int
	terms terms
}

// Index is an immutable set of tokenized documents.
type Index struct {
	opts    options
	entries []entry
}

// NewIndex tokenizes docs. Blank documents, documents below the minimum
// length and documents made only of stop words are left out.
func NewIndex(docs []Document, opts ...Option) *Index {
	o := options{minRunes: 1}
	for _, fn := range opts {
		fn(&o)
	}

	idx := &Index{opts: o, entries: make([]entry, 0, len(docs))}
	for _, d := range docs {
		if o.maxDocs > 0 && len(idx.entries) == o.maxDocs {
			break
		}
		text := strings.Join(strings.Fields(d.Text), " ")
		n := utf8.RuneCountInString(text)
		if n == 0 || n < o.minRunes {
			continue
		}
		if ts := termsOf(text, o.stop); len(ts) > 0 {
			idx.entries = append(idx.entries, entry{id: d.ID, runes: n, terms: ts})
		}
	}
	return idx
}

// Len is the number of indexed documents.
func (idx *Index) Len() int { return len(idx.entries) }

// TopK returns the k best documents sharing at least one term with q,
// best first. Equal scores rank the shorter document first, then the lower
// id. A blank or stop-word-only query matches nothing.
func (idx *Index) TopK(q string, k int) []Result {
	if k <= 0 {
		k = defaultK
	}
	qt := termsOf(q, idx.opts.stop)
	if len(qt) == 0 {
		return nil
	}

	type hit struct {
		Result
		runes int
	}
	var hits []hit
	for _, e := range idx.entries {
		shared := qt.shared(e.terms)
		if shared == 0 {
			continue
		}
		union := len(qt) + len(e.terms) - shared
		hits = append(hits, hit{Result{e.id, float64(shared) / float64(union)}, e.runes})
	}
	if len(hits) == 0 {
		return nil
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.runes, b.runes); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	out := make([]Result, 0, min(k, len(hits)))
	for _, h := range hits[:cap(out)] {
		out = append(out, h.Result)
	}
	return out
}

// terms is a set of lower-cased words.
type terms map[string]struct{}

var termRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func termsOf(s string, stop terms) terms {
	words := termRE.FindAllString(strings.ToLower(s), -1)
	out := make(terms, len(words))
	for _, w := range words {
		if _, skip := stop[w]; !skip {
			out[w] = struct{}{}
		}
	}
	return out
}

// shared counts the terms present in both sets.
func (t terms) shared(other terms) int {
	small, large := t, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for w := range small {
		if _, ok := large[w]; ok {
			n++
		}
	}
	return n
}
