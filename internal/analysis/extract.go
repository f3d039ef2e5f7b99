package analysis

import (
	"errors"
	"strings"
)

// CleanResponse applies the bounded text-cleanup phase to a model response:
// trim whitespace, strip a surrounding markdown code fence, and if the
// remainder still is not a bare object, fall back to extracting the first
// balanced top-level {...}. Anything beyond these transformations is the
// strict validator's problem.
func CleanResponse(raw string) (string, error) {
	s := StripCodeFence(strings.TrimSpace(raw))
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}
	if obj, ok := ExtractObject(s); ok {
		return obj, nil
	}
	return "", errors.New("no JSON object found in response")
}

// StripCodeFence removes a single surrounding ``` fence, tolerating a
// language tag such as ```json on the opening line.
func StripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the optional language tag line
		tag := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(tag, "{}") {
			body = body[nl+1:]
		}
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// ExtractObject returns the first balanced top-level JSON object in s.
// Brace counting is string-aware so braces inside string values do not
// confuse the match.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
