package ai

import (
	"fmt"
	"strings"
)

// Summary length targets per summary type.
const (
	SummaryConcise  = "concise"  // ~100 words
	SummaryDetailed = "detailed" // ~300 words
)

// SummaryPrompt builds the system and user messages for summarizing a
// scientific article. Input text is capped at 4000 chars.
func SummaryPrompt(text, summaryType string) []Message {
	maxWords := 100
	if summaryType == SummaryDetailed {
		maxWords = 300
	}

	system := fmt.Sprintf(`You are a scientific summarizer specialized in space biology research.
Create a %s summary (%d words max) that captures:
- Main findings
- Methodology highlights
- Significance to space biology

Use clear, accessible language while maintaining scientific accuracy.`, summaryType, maxWords)

	if len(text) > 4000 {
		text = text[:4000]
	}

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Summarize this scientific article:\n\n" + text},
	}
}

// ChatSystemPrompt builds the assistant's system message, optionally
// grounded on retrieved source articles.
func ChatSystemPrompt(sources []string) Message {
	var b strings.Builder
	b.WriteString(`You are a research assistant for a NASA space-biology publication portal.
Answer questions about space biology, microgravity research, astronaut health and
ISS experiments. Ground your answers in the provided source articles when relevant,
and say so when the corpus does not cover a question.`)

	if len(sources) > 0 {
		b.WriteString("\n\nSource articles:\n")
		for _, s := range sources {
			b.WriteString("- " + s + "\n")
		}
	}

	return Message{Role: "system", Content: b.String()}
}

var synthesisWordCounts = map[string]int{
	"short":  500,
	"medium": 1000,
	"long":   2000,
}

// SynthesisPrompt builds the messages for generating a research
// synthesis article conditioned on retrieved sources.
func SynthesisPrompt(topic, articleType, length, style string, sources []string) []Message {
	targetWords, ok := synthesisWordCounts[length]
	if !ok {
		targetWords = 1000
	}

	system := fmt.Sprintf(`You are an expert space biology researcher writing a %s article.
Write in %s style for %d words.

Structure:
1. Compelling title
2. Abstract
3. Introduction
4. Main content sections
5. Conclusion
6. Key references

Focus on space biology aspects: microgravity effects, radiation, ISS experiments, etc.`,
		articleType, style, targetWords)

	prompt := fmt.Sprintf("Write a comprehensive %s article about: %s", articleType, topic)
	if len(sources) > 0 {
		if len(sources) > 3 {
			sources = sources[:3]
		}
		prompt += "\n\nContext from related research:\n" + strings.Join(sources, "\n")
	}

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
}

// ReviewPrompt builds the messages for a structured literature review
// over the given source articles.
func ReviewPrompt(topic string, yearFrom, yearTo int, sources []string) []Message {
	system := `You are an expert space biology researcher writing a structured literature review.
Organize the review as: Scope, Key Findings, Methodological Themes, Gaps, Conclusion.
Cite the provided source articles by title. Do not invent sources.`

	var b strings.Builder
	fmt.Fprintf(&b, "Write a literature review on: %s", topic)
	if yearFrom > 0 || yearTo > 0 {
		fmt.Fprintf(&b, " (publications %d-%d)", yearFrom, yearTo)
	}
	b.WriteString("\n\nSource articles:\n")
	for _, s := range sources {
		b.WriteString("- " + s + "\n")
	}

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

// ParseTitle splits generated content into a title (first non-empty
// line, markdown heading markers stripped) and the remaining body.
func ParseTitle(content string) (title, body string) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for n, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "# "))
		if trimmed == "" {
			continue
		}
		return trimmed, strings.TrimSpace(strings.Join(lines[n+1:], "\n"))
	}
	return "", ""
}

// SourceLine formats one article for inclusion in a prompt.
func SourceLine(title, abstract string) string {
	if abstract == "" {
		abstract = "No abstract"
	}
	return title + ": " + abstract
}
