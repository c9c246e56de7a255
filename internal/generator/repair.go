package generator

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"dailyprompt/internal/storage"
)

var flatObject = regexp.MustCompile(`\{[^{}]*\}`)

// repairStages run in order; the first non-empty result wins.
var repairStages = []func(string) []storage.Item{
	parseStrict,
	parseNormalized,
	parseObjects,
}

// Repair extracts prompt items from raw model output. It never fails: output
// it cannot make sense of yields an empty slice. Objects without a string
// "prompt" field are dropped. Items keep the order they appear in raw.
func Repair(raw string) []storage.Item {
	for _, stage := range repairStages {
		if items := stage(raw); len(items) > 0 {
			return items
		}
	}
	return nil
}

// parseStrict accepts only a well-formed JSON array.
func parseStrict(raw string) []storage.Item {
	return itemsFromArray(strings.TrimSpace(raw))
}

// parseNormalized strips fences and surrounding prose, then fixes brackets and
// trailing commas before parsing.
func parseNormalized(raw string) []storage.Item {
	return itemsFromArray(normalize(raw))
}

// parseObjects scans for flat {...} spans and parses each on its own. It
// recovers leading entries when the array was cut off mid-object.
func parseObjects(raw string) []storage.Item {
	var out []storage.Item
	for _, span := range flatObject.FindAllString(raw, -1) {
		if !gjson.Valid(span) {
			continue
		}
		if it, ok := itemFrom(gjson.Parse(span)); ok {
			out = append(out, it)
		}
	}
	return out
}

func normalize(raw string) string {
	s := stripFence(strings.TrimSpace(raw))
	if i := strings.LastIndexByte(s, ']'); i >= 0 {
		s = s[:i+1]
	}
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[i:]
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		s = "[" + s
	}
	if !strings.HasSuffix(s, "]") {
		s += "]"
	}
	return dropTrailingCommas(s)
}

// dropTrailingCommas removes commas that directly precede a closing ] or },
// ignoring anything inside string literals.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// stripFence removes a ``` fence (and its language tag) wrapping the whole text.
func stripFence(s string) string {
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	inner := s[3 : len(s)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], "[{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}

func itemsFromArray(s string) []storage.Item {
	if s == "" || !gjson.Valid(s) {
		return nil
	}
	v := gjson.Parse(s)
	if !v.IsArray() {
		return nil
	}
	var out []storage.Item
	v.ForEach(func(_, el gjson.Result) bool {
		if it, ok := itemFrom(el); ok {
			out = append(out, it)
		}
		return true
	})
	return out
}

func itemFrom(v gjson.Result) (storage.Item, bool) {
	if !v.IsObject() {
		return storage.Item{}, false
	}
	p := v.Get("prompt")
	if p.Type != gjson.String {
		return storage.Item{}, false
	}
	text := strings.TrimSpace(p.String())
	if text == "" {
		return storage.Item{}, false
	}
	return storage.Item{Prompt: text}, true
}
