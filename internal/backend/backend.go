// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

// Metadata keys shared by every backend. The store writes all of them on
// insert so equality filters behave identically across engines.
const (
	KeyTags           = "tags"
	KeySource         = "source"
	KeyChunkType      = "chunk_type"
	KeyCreatedAt      = "created_at"
	KeyUpdatedAt      = "updated_at"
	KeyLastAccessedAt = "last_accessed_at"
	KeyHitCount       = "hit_count"
	KeyPriority       = "priority"
	KeySupersededBy   = "superseded_by"
	KeyFileMtime      = "file_mtime"
)

// Result is a single record returned from a backend operation.
// Distance is only meaningful for Query results; Get and Scan leave it zero.
type Result struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
	// Fused is the Reciprocal Rank Fusion score when a hybrid query
	// reordered the results; zero for dense-only queries. Callers that
	// merge hybrid result sets must rank by Fused, not Distance, or the
	// lexical leg's contribution is lost.
	Fused float64
}

// Backend is the uniform storage protocol for vector engines.
// Implementations must honor the full Where grammar: clauses an engine
// cannot evaluate server-side are applied client-side after over-fetching.
type Backend interface {
	// Insert stores a new record. The embedding dimension must match the
	// embedder the collection was created with.
	Insert(id, text string, embedding []float32, metadata map[string]any) error

	// Update partially modifies a record. Nil text, embedding, or metadata
	// leave the corresponding field unchanged.
	Update(id string, text *string, embedding []float32, metadata map[string]any) error

	// Delete removes the given ids. Unknown ids are ignored.
	Delete(ids []string) error

	// Query returns up to limit records ranked by vector distance,
	// restricted by the optional filter.
	Query(embedding []float32, limit int, where Where) ([]Result, error)

	// Get retrieves records by id. Missing ids are omitted from the result.
	Get(ids []string) ([]Result, error)

	// Scan returns one page of records in a stable order along with the
	// total number of matching records.
	Scan(offset, limit int, where Where) ([]Result, int, error)

	// Count returns the number of records matching the filter.
	Count(where Where) (int, error)

	// Close releases the underlying engine resources.
	Close() error
}

// HybridQuerier is implemented by backends that also maintain a lexical
// ranking leg. Callers fall back to plain Query when the engine does not
// implement it.
type HybridQuerier interface {
	QueryHybrid(embedding []float32, queryText string, limit int, where Where) ([]Result, error)
}

const (
	// OverfetchFactor is how many times limit a backend fetches when any
	// filter clause must be applied client-side.
	OverfetchFactor = 3

	// OverfetchCap bounds the raw candidate set for client-side filtering.
	// Low-selectivity filters may under-return past this point; that is an
	// accepted approximation.
	OverfetchCap = 5000
)

// OverfetchLimit computes the raw candidate count for a filtered query.
func OverfetchLimit(limit int) int {
	n := limit * OverfetchFactor
	if n > OverfetchCap {
		return OverfetchCap
	}
	if n < 1 {
		return 1
	}
	return n
}
