package rag

import (
	"fmt"
	"strings"

	"github.com/biolink/semindex/internal/store"
)

// buildPrompt assembles the grounded prompt: the retrieved passages, each
// labeled with its document id for citation, followed by the question and the
// grounding instruction.
func buildPrompt(question string, passages []store.Result) string {
	var b strings.Builder

	b.WriteString("You are a clinical registry assistant. Answer strictly using only the provided patient context.\n")
	b.WriteString("If the context does not contain the information needed, say that the registry has no grounded data for this question.\n")
	b.WriteString("Cite the document ids of the passages you used.\n\n")
	b.WriteString("Patient context:\n")

	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.ID, p.Content)
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")

	return b.String()
}
