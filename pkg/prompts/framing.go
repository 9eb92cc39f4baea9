package prompts

import "strings"

// GenerationUserMessage frames the transcript window as the user message
// for a story generation call. totalHistory is the full transcript length;
// when the window holds everything, the model is told it sees the story
// from the start.
func GenerationUserMessage(window []string, totalHistory int) string {
	marker := "[Start of History]"
	if totalHistory > len(window) {
		marker = "[Last interactions]: "
	}

	var b strings.Builder
	b.WriteString("Recent Interaction History:\n")
	b.WriteString(marker)
	b.WriteString("\n")
	b.WriteString(strings.Join(window, "\n"))
	b.WriteString("\n\n(The user's most recent action is the last message in the history above)\n\n")
	b.WriteString("Your JSON Response:")
	return b.String()
}

// AnalysisUserMessage frames an element-extraction call: the current
// elements as JSON, then the delimited story text to analyze.
func AnalysisUserMessage(existingJSON string, texts []string) string {
	var b strings.Builder
	b.WriteString("Existing elements to compare against:\n")
	b.WriteString(existingJSON)
	b.WriteString("\n\nStory text to analyze:\n--- START TEXT ---\n")
	b.WriteString(strings.Join(texts, "\n"))
	b.WriteString("\n--- END TEXT ---\n\n")
	b.WriteString("Provide ONLY the JSON output containing NEW or CHANGED elements as defined in the system prompt.")
	return b.String()
}

// SummaryUserMessage frames a summary-update call: the existing summary,
// then the recent developments to fold in.
func SummaryUserMessage(existingSummary string, developments []string) string {
	if existingSummary == "" {
		existingSummary = "[No previous summary]"
	}

	var b strings.Builder
	b.WriteString("Existing Summary:\n")
	b.WriteString(existingSummary)
	b.WriteString("\n\nRecent Developments to incorporate:\n")
	b.WriteString(strings.Join(developments, "\n"))
	b.WriteString("\n\nProvide ONLY the updated summary text as requested in the system prompt.")
	return b.String()
}
