package search

import (
	"testing"
)

func TestOptions(t *testing.T) {
	o := options{minRunes: 1}
	WithMinRunes(10)(&o)
	WithMinRunes(-5)(&o)
	if o.minRunes != 10 {
		t.Fatalf("minRunes = %d; want 10", o.minRunes)
	}

	WithStopwords([]string{"  The ", "", "An"})(&o)
	if _, ok := o.stop["the"]; !ok || len(o.stop) != 2 {
		t.Fatalf("stop = %v", o.stop)
	}
	WithStopwords([]string{" "})(&o)
	if len(o.stop) != 2 {
		t.Fatalf("blank stop list replaced the previous one: %v", o.stop)
	}

	WithMaxDocs(2)(&o)
	WithMaxDocs(0)(&o)
	if o.maxDocs != 2 {
		t.Fatalf("maxDocs = %d; want 2", o.maxDocs)
	}
}

func TestNewIndex_SkipsUnsearchable(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: 1, Text: " \t\n "},
		{ID: 2, Text: "short"},
		{ID: 3, Text: "Request   for\n\nrefund of invoice"},
		{ID: 4, Text: "!!! ??? ..."},
		{ID: 5, Text: "the and of to"},
	}, WithMinRunes(6), WithStopwords(DefaultStopwords))
	if idx.Len() != 1 || idx.entries[0].id != 3 {
		t.Fatalf("entries = %+v", idx.entries)
	}
	// Runs of whitespace count once.
	if got := idx.entries[0].runes; got != len("Request for refund of invoice") {
		t.Fatalf("runes = %d", got)
	}

	capped := NewIndex([]Document{{ID: 1, Text: "one"}, {ID: 2, Text: "  "}, {ID: 3, Text: "three"}, {ID: 4, Text: "four"}}, WithMaxDocs(2))
	if capped.Len() != 2 || capped.entries[1].id != 3 {
		t.Fatalf("capped entries = %+v", capped.entries)
	}
}

func TestTopK_Ranking(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: 10, Text: "Contract renewal for supplier"},
		{ID: 11, Text: "Complaint about late delivery of the contract goods"},
		{ID: 12, Text: "Contract renewal"},
		{ID: 13, Text: "Жалоба на качество обслуживания"},
	})

	got := idx.TopK("contract renewal", 5)
	if len(got) != 3 {
		t.Fatalf("TopK = %+v; want 3 hits", got)
	}
	if got[0] != (Result{ID: 12, Score: 1}) || got[1] != (Result{ID: 10, Score: 0.5}) || got[2].ID != 11 {
		t.Fatalf("order = %+v", got)
	}
	if got[2].Score != 1.0/9 {
		t.Fatalf("partial score = %v; want 1/9", got[2].Score)
	}

	if r := idx.TopK("contract", 1); len(r) != 1 || r[0].ID != 12 {
		t.Fatalf("k=1 = %+v", r)
	}
	if r := idx.TopK("ЖАЛОБА", 1); len(r) != 1 || r[0].ID != 13 {
		t.Fatalf("unicode query = %+v", r)
	}
}

func TestTopK_Ties(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: 3, Text: "alpha beta"},
		{ID: 2, Text: "alpha zeta"},
		{ID: 1, Text: "alpha omega"},
	})
	r := idx.TopK("alpha", 0)
	if len(r) != 3 {
		t.Fatalf("TopK = %+v", r)
	}
	// Same score: 10-rune documents before the 11-rune one, lower id first.
	if r[0].ID != 2 || r[1].ID != 3 || r[2].ID != 1 {
		t.Fatalf("tie order = %+v", r)
	}
}

func TestTopK_NoMatch(t *testing.T) {
	if r := NewIndex(nil).TopK("anything", 3); r != nil {
		t.Fatalf("empty index = %+v", r)
	}
	idx := NewIndex([]Document{{ID: 1, Text: "the letter"}}, WithStopwords([]string{"the"}))
	for _, q := range []string{"", "   ", "the", "?!", "nothing here"} {
		if r := idx.TopK(q, 3); r != nil {
			t.Fatalf("TopK(%q) = %+v", q, r)
		}
	}
}
