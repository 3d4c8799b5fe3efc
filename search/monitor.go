package search

import "github.com/poiesic/docvec/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(userID, question string)
	AfterEmbedding(dims int)
	AfterVectorSearch(results []core.SearchResult)
	VerbatimHit(record *core.VectorRecord)
	Finish(results []core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                        {}
func (n *noopMonitor) AfterEmbedding(_ int)                     {}
func (n *noopMonitor) AfterVectorSearch(_ []core.SearchResult) {}
func (n *noopMonitor) VerbatimHit(_ *core.VectorRecord)         {}
func (n *noopMonitor) Finish(_ []core.SearchResult)             {}
