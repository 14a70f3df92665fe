package upstream

import (
	"fmt"
	"strings"
)

// suggestionsDelimiter separates the answer body from the follow-up question
// block the model is asked to append. Everything after it is metadata, never
// shown as answer text.
const suggestionsDelimiter = "===FOLLOW_UP_QUESTIONS==="

const citationInstruction = `When you quote or closely reference a passage from the page, wrap the verbatim phrase in triple brackets like [[[ the exact phrase ]]]. Use short phrases copied exactly from the page text. Do not wrap your own wording.`

func systemPrompt(req Request) string {
	var b strings.Builder

	switch req.Task {
	case TaskSummarise:
		b.WriteString("You summarise web pages. Produce a concise, well-structured summary of the page content the user provides.\n")
	case TaskAsk:
		b.WriteString("You answer questions about a web page the user is reading. Ground every answer in the provided page content.\n")
	case TaskTranslate:
		b.WriteString("You translate web page content. Translate the provided page content faithfully, preserving structure.\n")
	case TaskSimplify:
		b.WriteString("You simplify web page content. Rewrite the provided page content in plain, accessible language without losing meaning.\n")
	}

	if req.LanguageCode != "" && req.Task != TaskSummarise {
		fmt.Fprintf(&b, "Respond in the language with code %q.\n", req.LanguageCode)
	}

	b.WriteString(citationInstruction)
	b.WriteString("\n\nAfter your response, append the line ")
	b.WriteString(suggestionsDelimiter)
	b.WriteString(" followed by up to three short follow-up questions the user might ask next, one per line.")

	return b.String()
}

// ExtractSuggestions splits a final payload into the answer text and the
// suggested follow-up questions appended after the delimiter. Text without a
// delimiter passes through unchanged.
func ExtractSuggestions(text string) (clean string, questions []string) {
	body, tail, found := strings.Cut(text, suggestionsDelimiter)
	if !found {
		return strings.TrimSpace(text), nil
	}
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		questions = append(questions, line)
	}
	return strings.TrimSpace(body), questions
}
