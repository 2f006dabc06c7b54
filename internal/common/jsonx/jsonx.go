// Package jsonx provides defensive field probing over opaque JSON payloads.
// The worker backend and the status collector own their schemas; this package
// reads only the handful of fields the dashboard interprets and treats the
// rest as pass-through.
package jsonx

import (
	"encoding/json"
	"strings"
)

// Map decodes a raw payload into a generic map. Returns an empty map for
// nil, invalid or non-object payloads so lookups never have to nil-check.
func Map(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]interface{}{}
	}
	return m
}

// String returns the first present key coerced to a string.
func String(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Number returns the first present key coerced to a float64.
// JSON numbers decode as float64; strings holding numbers are not coerced.
func Number(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// Bool returns the first present key that is a JSON boolean.
func Bool(m map[string]interface{}, keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// Strings returns the first present key holding an array, with its elements
// coerced to trimmed non-empty strings.
func Strings(m map[string]interface{}, keys ...string) []string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		arr, ok := v.([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					out = append(out, t)
				}
			}
		}
		return out
	}
	return nil
}

// lookup resolves a dotted path ("runtime.watchlist") through nested objects.
func lookup(m map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
