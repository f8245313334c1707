package search

import "sort"

// DefaultRRFConstant is the standard Reciprocal Rank Fusion smoothing
// parameter. k=60 is the figure used by Azure AI Search, OpenSearch, and
// the corpus this formula is carried from.
const DefaultRRFConstant = 60

// FusedResult is one chunk after RRF fusion of the lexical and semantic
// candidate lists.
type FusedResult struct {
	ChunkID     string
	RRFScore    float64
	VecScore    float32 // cosine similarity, preserved for name-boost and threshold checks
	VecRank     int     // 1-indexed position in the vector list, 0 if absent
	FTSRank     int     // 1-indexed position in the FTS list, 0 if absent
	InBothLists bool
}

// RRFFusion implements score(id) = Σ weight_i / (k + rank_i) across the
// lexical and semantic ranked lists.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns fusion with the default k=60 constant.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK returns fusion with a custom smoothing constant,
// falling back to the default when k is non-positive.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// VecCandidate is one semantic search hit prior to fusion.
type VecCandidate struct {
	ID       string
	Score    float32 // cosine similarity, higher is better
}

// Fuse combines an FTS id list (best match first) and a semantic
// candidate list (best match first) by RRF. Both lists contribute to
// every id; an id absent from one list is scored there at
// missing_rank = max(len(fts), len(vec)) + 1.
func (f *RRFFusion) Fuse(ftsIDs []string, vecCandidates []VecCandidate, weights Weights) []*FusedResult {
	if len(ftsIDs) == 0 && len(vecCandidates) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(ftsIDs)+len(vecCandidates))
	getOrCreate := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		scores[id] = r
		return r
	}

	for rank, id := range ftsIDs {
		r := getOrCreate(id)
		r.FTSRank = rank + 1
		r.RRFScore += weights.BM25 / float64(f.K+rank+1)
	}
	for rank, c := range vecCandidates {
		r := getOrCreate(c.ID)
		r.VecRank = rank + 1
		r.VecScore = c.Score
		r.RRFScore += weights.Semantic / float64(f.K+rank+1)
		if r.FTSRank > 0 {
			r.InBothLists = true
		}
	}

	missingRank := missingRank(len(ftsIDs), len(vecCandidates))
	for _, r := range scores {
		if r.FTSRank == 0 && r.VecRank > 0 {
			r.RRFScore += weights.BM25 / float64(f.K+missingRank)
		}
		if r.VecRank == 0 && r.FTSRank > 0 {
			r.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	normalize(results)
	return results
}

func missingRank(ftsLen, vecLen int) int {
	if ftsLen > vecLen {
		return ftsLen + 1
	}
	return vecLen + 1
}

// less orders by RRF score desc, then both-lists membership, then
// vector similarity desc, then chunk id for determinism.
func less(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.VecScore != b.VecScore {
		return a.VecScore > b.VecScore
	}
	return a.ChunkID < b.ChunkID
}

func normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}
