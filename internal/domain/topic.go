package domain

import (
	"strings"
	"unicode/utf8"
)

// FlagIncludeSolution45 enables the optional solution stages 4 and 5.
const FlagIncludeSolution45 = "include_solution_4_5"

// TopicInfo is the user supplied metadata of the report. It is only used as
// template input.
type TopicInfo struct {
	Topic      string `json:"topic" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Level      string `json:"level" binding:"required"`
	Grade      string `json:"grade" binding:"required"`
	School     string `json:"school" binding:"required"`
	Location   string `json:"location" binding:"required"`
	Facilities string `json:"facilities" binding:"required"`

	Textbook         string `json:"textbook"`
	ResearchSubjects string `json:"researchSubjects"`
	Timeframe        string `json:"timeframe"`
	ApplyAI          string `json:"applyAI"`
	Focus            string `json:"focus"`

	ReferenceDocuments string `json:"referenceDocuments"`
	SKKNTemplate       string `json:"skknTemplate"`

	SpecialRequirements      string `json:"specialRequirements"`
	PageLimit                int    `json:"pageLimit" binding:"gte=0"`
	IncludePracticalExamples bool   `json:"includePracticalExamples"`
	IncludeStatistics        bool   `json:"includeStatistics"`
	IncludeSolution45        bool   `json:"includeSolution4_5"`
}

// Flags returns the feature flags that select optional stages.
func (t TopicInfo) Flags() map[string]bool {
	return map[string]bool{
		FlagIncludeSolution45: t.IncludeSolution45,
	}
}

// ShortTitle returns at most n characters of the topic.
func (t TopicInfo) ShortTitle(n int) string {
	topic := strings.TrimSpace(t.Topic)
	if utf8.RuneCountInString(topic) <= n {
		return topic
	}
	return string([]rune(topic)[:n])
}
