package store

import (
	"encoding/json"
	"strings"
)

// escapeLike escapes LIKE wildcards in s using '\' as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// marshalStrings converts []string to JSON text for storage.
func marshalStrings(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// unmarshalStrings converts JSON text back to []string.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" || s == "[]" {
		return nil
	}
	var list []string
	_ = json.Unmarshal([]byte(s), &list)
	return list
}
