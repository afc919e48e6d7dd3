package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ParseJSONResponse parses a JSON object response from an LLM, handling
// markdown code blocks.
func ParseJSONResponse(text string) map[string]any {
	text = stripFences(text)
	if text == "" {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		log.Printf("Failed to parse LLM response as JSON object: %v", err)
		return nil
	}
	return result
}

// ParseJSONArray parses a JSON array of objects from an LLM response. Models
// sometimes wrap the array in prose, or in an object such as
// {"items": [...]}; both are unwrapped. Returns nil if nothing usable is
// found.
func ParseJSONArray(text string) []map[string]any {
	text = stripFences(text)
	if text == "" {
		return nil
	}

	var result []map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result
	}

	if strings.HasPrefix(text, "{") {
		if arr := singleArrayField(ParseJSONResponse(text)); arr != nil {
			return arr
		}
	}

	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil {
			return result
		}
	}

	log.Printf("Failed to parse LLM response as JSON array")
	return nil
}

// singleArrayField returns the array of objects held by obj when it is the
// object's only array-valued field.
func singleArrayField(obj map[string]any) []map[string]any {
	var found []any
	for _, v := range obj {
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		if found != nil {
			return nil
		}
		found = arr
	}
	if found == nil {
		return nil
	}

	out := make([]map[string]any, 0, len(found))
	for _, el := range found {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
