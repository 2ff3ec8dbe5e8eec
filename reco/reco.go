// Package reco is the collaborative-filtering recommendation layer on top
// of smatrixdb: it records co-occurrence sets into the matrix and ranks a
// row's neighbors by cosine similarity over their shared counts.
package reco

import (
	"errors"
	"math"
	"sort"

	"github.com/asmuth/smatrixdb"
	"github.com/asmuth/smatrixdb/internal/fastmap"
)

// RowSource is the read side an Engine exposes to Recommend. Decoupling
// from *smatrixdb.Engine directly lets tests substitute a fake without a
// real backing file.
type RowSource interface {
	GetRow(x uint32) (*smatrixdb.RowSnapshot, error)
}

// Incrementer is the write side AddSet needs.
type Incrementer interface {
	Incr(x, y uint32, delta uint64) error
}

// Candidate is one recommended neighbor of the row passed to Recommend,
// carrying both similarity measures. Cosine is what ranks results;
// Jaccard is reported alongside for callers that want it.
type Candidate struct {
	ID      uint32
	Jaccard float64
	Cosine  float64
}

// Recommendations is the result of one Recommend call. Quality is the
// row's own cardinality, a rough measure of how much evidence the
// recommendation is based on.
type Recommendations struct {
	RowID      uint32
	Quality    uint64
	Candidates []Candidate
}

// AddSet records one co-occurrence set (a "purchase set"): every id's
// cardinality counter (column 0) is incremented once, and every ordered
// pair of distinct ids in the set has its co-occurrence counter
// incremented.
func AddSet(e Incrementer, ids []uint32) error {
	for n := 0; n < len(ids); n++ {
		if err := e.Incr(ids[n], 0, 1); err != nil {
			return err
		}
		for i := 0; i < len(ids); i++ {
			if i == n {
				continue
			}
			if err := e.Incr(ids[n], ids[i], 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Recommender wraps a RowSource with a row cache, so that recommending for
// many rows with the same Recommender only fetches any given neighbor row
// once, no matter how many candidate lists it appears in.
type Recommender struct {
	src   RowSource
	cache *fastmap.Map[*smatrixdb.RowSnapshot]
}

// NewRecommender builds a Recommender over src.
func NewRecommender(src RowSource) *Recommender {
	return &Recommender{src: src, cache: &fastmap.Map[*smatrixdb.RowSnapshot]{}}
}

func (r *Recommender) getRow(id uint32) (*smatrixdb.RowSnapshot, bool, error) {
	if row, ok := r.cache.Get(id); ok {
		return row, true, nil
	}
	row, err := r.src.GetRow(id)
	if err != nil {
		if errors.Is(err, smatrixdb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	r.cache.Set(id, row)
	return row, true, nil
}

// Recommend returns the rows co-occurring with x, ranked by cosine
// similarity, limited to maxResults. A maxResults <= 0 or above
// smatrixdb.MaxRowSize falls back to smatrixdb.MaxRowSize.
func (r *Recommender) Recommend(x uint32, maxResults int) (*Recommendations, error) {
	root, ok, err := r.getRow(x)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, smatrixdb.ErrNotFound
	}

	aCard := root.Cardinality()
	minOccur := cosineMinOccurrence(aCard)

	candidates := make([]Candidate, 0, len(root.Cells))
	for _, cell := range root.Cells {
		if cell.Column == 0 {
			continue // cardinality sentinel, not a neighbor
		}
		y, coOccur := cell.Column, cell.Value

		bRoot, ok, err := r.getRow(y)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		bCard := bRoot.Cardinality()

		candidates = append(candidates, Candidate{
			ID:      y,
			Jaccard: jaccard(aCard, bCard, coOccur),
			Cosine:  cosine(aCard, bCard, coOccur, minOccur),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Cosine > candidates[j].Cosine
	})
	if maxResults <= 0 || maxResults > smatrixdb.MaxRowSize {
		maxResults = smatrixdb.MaxRowSize
	}
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	return &Recommendations{RowID: x, Quality: aCard, Candidates: candidates}, nil
}

// Recommend is a one-shot convenience wrapper around Recommender for
// callers that do not need cross-call row caching.
func Recommend(src RowSource, x uint32, maxResults int) (*Recommendations, error) {
	return NewRecommender(src).Recommend(x, maxResults)
}

// cosineMinOccurrence is the minimum-evidence gate: below a cardinality
// of 10 a flat floor of 2 applies; above it the floor grows
// logarithmically in base 6, so a neighbor with too little shared
// evidence relative to the source row's own cardinality never surfaces.
func cosineMinOccurrence(aCard uint64) float64 {
	if aCard > 10 {
		return math.Ceil(math.Log(float64(aCard)) / math.Log(6))
	}
	return 2
}

// cosine is zero when the neighbor's co-occurrence count does not clear
// the min-occurrence floor, or when either side has no cardinality to
// divide by.
func cosine(aCard, bCard, coOccur uint64, minOccur float64) float64 {
	if float64(coOccur) < minOccur {
		return 0
	}
	if aCard == 0 || bCard == 0 {
		return 0
	}
	return float64(coOccur) / (math.Sqrt(float64(aCard)) * math.Sqrt(float64(bCard)))
}

// jaccard is the co-occurrence count over the union of the two rows'
// cardinalities.
func jaccard(aCard, bCard, coOccur uint64) float64 {
	den := aCard + bCard - coOccur
	if den == 0 {
		return 0
	}
	return float64(coOccur) / float64(den)
}
