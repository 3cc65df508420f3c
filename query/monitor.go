package query

import "github.com/poiesic/docqa/core"

// QueryMonitor provides hooks to observe the query process.
// Implement this interface to track intermediate steps and results of a query.
type QueryMonitor interface {
	Start(session core.SessionID, question string)
	NoDocuments(session core.SessionID)
	AfterEmbedding(vector []float32)
	AfterRetrieval(hits []core.ScoredChunk)
	AfterPrompt(prompt string)
	AfterGeneration(answer string)
	Finish(result *core.QueryResult)
}

// noopMonitor is a no-op implementation of QueryMonitor
type noopMonitor struct{}

var _ QueryMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.SessionID, _ string)    {}
func (n *noopMonitor) NoDocuments(_ core.SessionID)        {}
func (n *noopMonitor) AfterEmbedding(_ []float32)          {}
func (n *noopMonitor) AfterRetrieval(_ []core.ScoredChunk) {}
func (n *noopMonitor) AfterPrompt(_ string)                {}
func (n *noopMonitor) AfterGeneration(_ string)            {}
func (n *noopMonitor) Finish(_ *core.QueryResult)          {}
