package generator

import (
	"fmt"
	"strings"
)

// BuildInstruction renders the instruction for one batch of count items.
func BuildInstruction(count int, topics []string, goal string, maxChars int) string {
	clean := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	interests := strings.Join(clean, ", ")
	if interests == "" {
		interests = "everyday life"
	}
	goal = strings.TrimSpace(goal)
	if goal == "" {
		goal = "building a daily journaling habit"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate exactly %d personalized journal prompts for a user interested in %s with the goal of %s. ", count, interests, goal)
	fmt.Fprintf(&sb, "Each prompt should be no more than %d characters long and designed to be used in the morning. ", maxChars)
	sb.WriteString("The prompts should encourage introspection, self-reflection, creativity, and personal growth. ")
	sb.WriteString("Mix open-ended questions, gratitude exercises, and goal-setting reflections relevant to the chosen interests. ")
	sb.WriteString("Avoid prompts that read like tasks; each one should invite a daily journal entry. ")
	sb.WriteString(`Return ONLY a valid JSON array where each element is an object with a single "prompt" string field, `)
	sb.WriteString("without any markdown formatting, code fences, or explanation.")
	return sb.String()
}
