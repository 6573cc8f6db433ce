package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"market-stream/src/models"

	"github.com/tidwall/gjson"
)

// -----------------------------------------------------------------------------
// Frame normalization
// -----------------------------------------------------------------------------

// Normalize decodes one raw inbound message into frames. The envelope kind is
// read from "type" (or "target"), the payload from "data" (or "arguments").
// An array payload yields one frame per object element. A message without a
// payload is its own payload.
func Normalize(raw []byte) ([]models.MFrame, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid json frame")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("frame is not an object")
	}

	var kind, target string
	var payload gjson.Result
	hasPayload := false
	rest := make(map[string]interface{})

	root.ForEach(func(k, v gjson.Result) bool {
		switch key := CanonicalKey(k.String()); key {
		case "type":
			kind = v.String()
		case "target":
			target = v.String()
		case "data", "arguments":
			payload = v
			hasPayload = true
		default:
			rest[key] = normalizeValue(v)
		}
		return true
	})
	if target != "" {
		kind = target
	}
	kind = strings.ToLower(kind)

	if !hasPayload {
		return []models.MFrame{{Kind: kind, Fields: rest}}, nil
	}

	var frames []models.MFrame
	collect := func(v gjson.Result) {
		if v.IsObject() {
			frames = append(frames, models.MFrame{Kind: kind, Fields: normalizeObject(v)})
		}
	}
	if payload.IsArray() {
		payload.ForEach(func(_, v gjson.Result) bool {
			if v.IsArray() {
				// nested argument lists
				v.ForEach(func(_, inner gjson.Result) bool {
					collect(inner)
					return true
				})
				return true
			}
			collect(v)
			return true
		})
	} else {
		collect(payload)
	}
	return frames, nil
}

// -----------------------------------------------------------------------------

// identifierKeys keep their string values: "000001" is a ticker, not 1.
var identifierKeys = map[string]bool{
	"ticker":     true,
	"symbol":     true,
	"timeframe":  true,
	"resolution": true,
	"interval":   true,
	"id":         true,
}

func normalizeObject(obj gjson.Result) map[string]interface{} {
	out := make(map[string]interface{})
	obj.ForEach(func(k, v gjson.Result) bool {
		key := CanonicalKey(k.String())
		if identifierKeys[key] && v.Type == gjson.String {
			out[key] = v.Str
			return true
		}
		out[key] = normalizeValue(v)
		return true
	})
	return out
}

func normalizeValue(v gjson.Result) interface{} {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float()
	case gjson.String:
		if f, ok := ParseNumeric(v.Str); ok {
			return f
		}
		return v.Str
	}
	if v.IsObject() {
		return normalizeObject(v)
	}
	if v.IsArray() {
		items := v.Array()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v.Value()
}

// -----------------------------------------------------------------------------

// ParseNumeric parses a decimal numeric string. Hex, NaN and infinities are
// not numeric here.
func ParseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "0x") || strings.ContainsAny(lower, "in_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// -----------------------------------------------------------------------------

// CanonicalKey converts PascalCase, snake_case, kebab-case and SCREAMING_CASE
// keys to camelCase. A leading acronym is lowercased as a whole ("ID" -> "id",
// "URLPath" -> "urlPath").
func CanonicalKey(k string) string {
	if strings.ContainsAny(k, "_- ") {
		parts := strings.FieldsFunc(k, func(r rune) bool {
			return r == '_' || r == '-' || r == ' '
		})
		for i, p := range parts {
			p = strings.ToLower(p)
			if i > 0 && p != "" {
				p = strings.ToUpper(p[:1]) + p[1:]
			}
			parts[i] = p
		}
		return strings.Join(parts, "")
	}

	runes := []rune(k)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	if n == 0 {
		return k
	}
	if n == len(runes) {
		return strings.ToLower(k)
	}
	if n > 1 && unicode.IsLower(runes[n]) {
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
