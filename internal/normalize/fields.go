package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// fields is a loosely typed view of a backend result object. Lookups never
// fail; a missing or mistyped value reads as empty.
type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) fields {
	var m map[string]json.RawMessage
	if err := jsonAPI.Unmarshal(raw, &m); err != nil {
		return fields{}
	}
	return m
}

// text returns the first non-empty value among keys as display text.
func (f fields) text(keys ...string) string {
	for _, k := range keys {
		if s := valueText(f[k]); s != "" {
			return s
		}
	}
	return ""
}

// integer reads a JSON number, or a string holding one.
func (f fields) integer(key string) (int, bool) {
	raw := bytes.TrimSpace(f[key])
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := jsonAPI.Unmarshal(raw, &n); err == nil {
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := jsonAPI.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, true
		}
	}
	return 0, false
}

// urls reads the first key holding an array and renders each item as a URL.
func (f fields) urls(keys ...string) ([]string, bool) {
	for _, k := range keys {
		raw := bytes.TrimSpace(f[k])
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var items []json.RawMessage
		if err := jsonAPI.Unmarshal(raw, &items); err != nil {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, urlText(item))
		}
		return out, true
	}
	return nil, false
}

// urlText accepts a bare string, an object with a url field, or anything
// else rendered as JSON.
func urlText(item json.RawMessage) string {
	var s string
	if err := jsonAPI.Unmarshal(item, &s); err == nil {
		return s
	}
	var obj struct {
		URL json.RawMessage `json:"url"`
	}
	if err := jsonAPI.Unmarshal(item, &obj); err == nil {
		if u := valueText(obj.URL); u != "" {
			return u
		}
	}
	return string(bytes.TrimSpace(item))
}

// valueText renders a JSON value the way a display would: strings unquoted,
// null and false as empty, everything else as its JSON text.
func valueText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := jsonAPI.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return s
	case 'n', 'f':
		return ""
	default:
		return string(trimmed)
	}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
