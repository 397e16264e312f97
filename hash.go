package sitecache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// hashSeparator joins the normalized key and the serialized params.
const hashSeparator = "|"

// CreateHash derives the storage key for key and params.
//
// The key is lowercased and trimmed. When params is nil the normalized key is
// returned as is; otherwise params are serialized as compact JSON with every
// object key sorted, at every depth and inside arrays, and appended after a
// "|" separator. Structurally equal params therefore hash identically no
// matter how their keys were ordered. Params that cannot be serialized fall
// back to their fmt representation.
func CreateHash(key string, params any) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if params == nil {
		return normalized
	}

	canonical, err := canonicalJSON(params)
	if err != nil {
		return normalized + hashSeparator + fmt.Sprintf("%v", params)
	}
	if canonical == "null" {
		return normalized
	}
	return normalized + hashSeparator + canonical
}

// canonicalJSON re-encodes v through a generic tree. encoding/json writes
// map keys in sorted order, so decoding into map[string]any and encoding
// again sorts every nested object.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
