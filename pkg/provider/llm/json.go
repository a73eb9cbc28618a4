package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?is)^```(?:json)?\\s*|\\s*```$")

// ParseJSONObject extracts a JSON object from model output. Models that
// ignore response_format wrap the object in markdown fences or prose, so
// three attempts are made: the raw string, the string with fences stripped,
// and the substring from the first '{' to the last '}'.
func ParseJSONObject(content string) (map[string]any, error) {
	raw := strings.TrimSpace(content)

	if obj, ok := tryObject(raw); ok {
		return obj, nil
	}

	if obj, ok := tryObject(strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))); ok {
		return obj, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		if obj, ok := tryObject(raw[start : end+1]); ok {
			return obj, nil
		}
	}

	return nil, errors.New("llm: cannot parse JSON object from model output")
}

func tryObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
