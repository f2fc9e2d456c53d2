package ai

import (
	_ "embed"
	"strconv"
	"strings"
)

const DefaultSummaryWords = 75

//go:embed prompt.md
var promptTemplate string

//go:embed labels.md
var labelFormat string

// Instruction renders the evaluation instruction. Providers without
// structured output also get the labelled reply format.
func Instruction(maxWords int, structured bool) string {
	if maxWords <= 0 {
		maxWords = DefaultSummaryWords
	}
	prompt := strings.ReplaceAll(promptTemplate, "{{MAX_WORDS}}", strconv.Itoa(maxWords))
	if !structured {
		prompt = strings.TrimRight(prompt, "\n") + "\n" + labelFormat
	}
	return strings.TrimSpace(prompt)
}

// Payload wraps the serialized snapshot into the user message.
func Payload(snapshotJSON string) string {
	return "Evaluate this contractor application:\n\n" +
		strings.TrimSpace(snapshotJSON) +
		"\n\nProvide your evaluation in the requested format."
}
