package query

import (
	"fmt"
	"strings"

	"github.com/poiesic/docqa/core"
)

// NoDocumentsAnswer is returned for questions asked in a session that has no
// indexed documents.
const NoDocumentsAnswer = "No documents have been uploaded to this session yet. Upload a PDF or text file and ask again."

const answerPromptTemplate = `Context information from the uploaded documents is below. Each passage is numbered and
labelled with the file it came from.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
If the context does not contain the answer, say that the documents do not cover it.
Query: %s
Answer:`

const rewritePromptTemplate = `Rewrite the answer below according to the style request.

Keep every fact of the original answer. Do not add new information, do not mention that the text was
rewritten, and output only the rewritten answer with no preamble.

Style request: %s

Original answer:
%s

Rewritten answer:`

// buildAnswerPrompt composes the generation prompt from the ranked passages.
func buildAnswerPrompt(question string, hits []core.ScoredChunk) string {
	var passages strings.Builder
	for i, hit := range hits {
		if i > 0 {
			passages.WriteString("\n\n")
		}
		fmt.Fprintf(&passages, "[%d] (%s)\n%s", i+1, hit.Chunk.Filename(), strings.TrimSpace(hit.Chunk.Text))
	}
	return fmt.Sprintf(answerPromptTemplate, passages.String(), strings.TrimSpace(question))
}

func buildRewritePrompt(answer, style string) string {
	return fmt.Sprintf(rewritePromptTemplate, strings.TrimSpace(style), strings.TrimSpace(answer))
}
