package ai

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
)

//go:embed prompts/base_prompt.md
var basePromptRaw string

//go:embed prompts/item_message.tmpl
var itemMessageRaw string

// criteriaPlaceholder marks where a task's criteria are spliced into the base prompt.
const criteriaPlaceholder = "{{CRITERIA_SECTION}}"

// ItemMessageTemplate wraps a task prompt and one listing into the user message.
// Parsed once at package init; reused on every Analyze call.
var ItemMessageTemplate = template.Must(template.New("item_message").Parse(itemMessageRaw))

// DefaultBasePrompt returns the embedded base prompt.
func DefaultBasePrompt() string { return basePromptRaw }

// ComposePrompt splices criteria into base. A base without the placeholder
// gets the criteria appended.
func ComposePrompt(base, criteria string) string {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		return ""
	}
	if strings.Contains(base, criteriaPlaceholder) {
		return strings.ReplaceAll(base, criteriaPlaceholder, criteria)
	}
	return strings.TrimRight(base, "\n") + "\n\n" + criteria
}

// LoadTaskPrompt builds a task's analysis prompt. The base comes from
// basePath, or the embedded default when basePath is empty. Criteria come
// from criteriaPath when set, else from description. An empty result means
// the task has no prompt.
func LoadTaskPrompt(basePath, criteriaPath, description string) (string, error) {
	base := basePromptRaw
	if basePath != "" {
		data, err := os.ReadFile(basePath)
		if err != nil {
			return "", fmt.Errorf("read base prompt: %w", err)
		}
		base = string(data)
	}

	criteria := description
	if criteriaPath != "" {
		data, err := os.ReadFile(criteriaPath)
		if err != nil {
			return "", fmt.Errorf("read criteria file: %w", err)
		}
		criteria = string(data)
	}

	return ComposePrompt(base, criteria), nil
}
