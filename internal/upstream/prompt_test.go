package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSuggestions(t *testing.T) {
	t.Parallel()

	t.Run("with suggestion block", func(t *testing.T) {
		t.Parallel()
		text := "The page explains tides.\n===FOLLOW_UP_QUESTIONS===\n- What causes spring tides?\nHow do tides affect shipping?\n\n"
		clean, questions := ExtractSuggestions(text)
		assert.Equal(t, "The page explains tides.", clean)
		assert.Equal(t, []string{"What causes spring tides?", "How do tides affect shipping?"}, questions)
	})

	t.Run("without suggestion block", func(t *testing.T) {
		t.Parallel()
		clean, questions := ExtractSuggestions("Just an answer.")
		assert.Equal(t, "Just an answer.", clean)
		assert.Nil(t, questions)
	})

	t.Run("empty tail", func(t *testing.T) {
		t.Parallel()
		clean, questions := ExtractSuggestions("Answer.\n===FOLLOW_UP_QUESTIONS===\n")
		assert.Equal(t, "Answer.", clean)
		assert.Empty(t, questions)
	})
}

func TestSystemPromptMentionsCitations(t *testing.T) {
	t.Parallel()

	for _, task := range []Task{TaskSummarise, TaskAsk, TaskTranslate, TaskSimplify} {
		prompt := systemPrompt(Request{Task: task, LanguageCode: "de"})
		assert.Contains(t, prompt, "[[[", "task %s must instruct citation markers", task)
		assert.Contains(t, prompt, suggestionsDelimiter)
	}
}
