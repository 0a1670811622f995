// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlvec

import (
	"sort"
	"strings"
)

// rrfK dampens the contribution of low ranks in Reciprocal Rank Fusion.
// 60 is the value from the original RRF paper.
const rrfK = 60

// lexicalRank orders document ids by query term frequency, descending.
// Documents containing no query term are excluded from the lexical leg.
func lexicalRank(query string, texts map[string]string) []string {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	type scored struct {
		id   string
		hits int
	}
	var ranked []scored
	for id, text := range texts {
		lower := strings.ToLower(text)
		hits := 0
		for _, term := range terms {
			hits += strings.Count(lower, term)
		}
		if hits > 0 {
			ranked = append(ranked, scored{id: id, hits: hits})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].hits != ranked[j].hits {
			return ranked[i].hits > ranked[j].hits
		}
		return ranked[i].id < ranked[j].id
	})
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.id
	}
	return ids
}

// fuseRanks merges ranked id lists with Reciprocal Rank Fusion:
// score(doc) = sum over lists of 1/(k + rank). Every id from every list
// appears in the output, sorted by fused score descending. The score map
// is returned so the fused ordering survives later merges.
func fuseRanks(lists ...[]string) ([]string, map[string]float64) {
	scores := map[string]float64{}
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids, scores
}
