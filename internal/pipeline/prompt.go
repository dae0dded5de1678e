package pipeline

import "strings"

// qaPromptTemplate is the single system instruction of the QA chain. The
// "say that you don't know" clause is load-bearing for hallucination control
// and must not be reworded.
const qaPromptTemplate = `You are a Confluence chatbot answering questions. Use the following pieces of context to answer the question at the end. If you don't know the answer, say that you don't know, don't try to make up an answer.

Context: {context}
Question: {question}
Answer:
`

// renderPrompt fills the two named slots of the QA template.
func renderPrompt(contextText, question string) string {
	r := strings.NewReplacer("{context}", contextText, "{question}", question)
	return r.Replace(qaPromptTemplate)
}

// formatContext concatenates retrieved chunk texts with a blank-line
// separator, mirroring their similarity order.
func formatContext(results []SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Text)
	}
	return strings.Join(parts, "\n\n")
}
