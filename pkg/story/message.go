package story

import (
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation history.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

const divider = "--------------------------------------------------"

// Pretty renders messages as divider, role and content lines followed by a
// closing divider.
func Pretty(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(divider)
		b.WriteString("\nrole: ")
		b.WriteString(string(m.Role))
		b.WriteString("\ncontent: ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString(divider)
	b.WriteByte('\n')
	return b.String()
}

// Revision is one named directive of an update turn, e.g. tone: darker.
type Revision struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// UpdateHeader starts every update instruction.
const UpdateHeader = "Update the story you have created with the following parameters:"

// UpdatePrompt builds the user message of an update turn. Lines keep the
// order of revisions.
func UpdatePrompt(revisions []Revision) string {
	return Directives(UpdateHeader, revisions)
}

// Directives renders a header followed by one "key: value" line per revision.
func Directives(header string, revisions []Revision) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range revisions {
		b.WriteByte('\n')
		b.WriteString(r.Key)
		b.WriteString(": ")
		b.WriteString(r.Value)
	}
	return b.String()
}

// ParseRevision parses a "key: value" line.
func ParseRevision(line string) (Revision, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return Revision{}, false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Revision{}, false
	}
	return Revision{Key: key, Value: strings.TrimSpace(value)}, true
}
