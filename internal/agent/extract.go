package agent

import (
	"encoding/json"
	"fmt"
)

// ExtractText pulls the report text out of a delegate's structured
// result. Backends disagree on shape, so each known layout is tried in a
// fixed priority order: a "response" envelope (content list, then
// message, then the raw value), a top-level content list, a top-level
// message, and finally the whole body stringified. The second return
// value names the path taken, for logging.
func ExtractText(body map[string]any) (string, string) {
	if resp, ok := body["response"]; ok {
		switch v := resp.(type) {
		case map[string]any:
			if items, ok := v["content"].([]any); ok {
				return joinContent(items), "response.content"
			}
			if msg, ok := v["message"]; ok {
				return stringify(msg), "response.message"
			}
			b, _ := json.Marshal(v)
			return string(b), "response.object"
		case string:
			return v, "response.string"
		default:
			return stringify(v), "response.value"
		}
	}
	if items, ok := body["content"].([]any); ok {
		return joinContent(items), "content"
	}
	if msg, ok := body["message"]; ok {
		return stringify(msg), "message"
	}
	b, _ := json.Marshal(body)
	return string(b), "body"
}

// joinContent concatenates the text of each content item in order. Items
// without a text field are stringified whole rather than dropped.
func joinContent(items []any) string {
	var out string
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if text, ok := v["text"]; ok {
				out += stringify(text)
			} else {
				b, _ := json.Marshal(v)
				out += string(b)
			}
		case string:
			out += v
		default:
			out += stringify(v)
		}
	}
	return out
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
