package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Models wrap JSON in prose or markdown fences often enough that responses
// are scanned for the outermost object/array instead of unmarshalled raw.

func unmarshalObject(content string, v interface{}) error {
	return json.Unmarshal([]byte(extractJSON(content, '{', '}')), v)
}

func unmarshalArray(content string, v interface{}) error {
	return json.Unmarshal([]byte(extractJSON(content, '[', ']')), v)
}

func extractJSON(content string, opening, closing byte) string {
	content = strings.TrimSpace(content)
	start := strings.IndexByte(content, opening)
	end := strings.LastIndexByte(content, closing)
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}

// FormatSourceBlock renders one retrieved source the way the synthesis
// prompts expect it.
func FormatSourceBlock(title, url, excerpt string) string {
	if title == "" {
		return fmt.Sprintf("%s\n%s", url, excerpt)
	}
	return fmt.Sprintf("%s (%s)\n%s", title, url, excerpt)
}
