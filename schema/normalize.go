// Package schema normalizes JSON schemas received from MCP servers into the
// shape downstream validators expect.
package schema

import "encoding/json"

// Normalize rewrites nullable type unions such as {"type": ["string","null"]}
// into the equivalent {"anyOf": [{"type": "string"}, {"type": "null"}]} form,
// recursively across the whole schema. The input map is not modified.
func Normalize(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	ret := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		ret[key] = normalizeValue(value)
	}
	if types, ok := ret["type"].([]interface{}); ok {
		anyOf := make([]interface{}, 0, len(types))
		for _, t := range types {
			anyOf = append(anyOf, map[string]interface{}{"type": t})
		}
		delete(ret, "type")
		ret["anyOf"] = anyOf
	}
	return ret
}

func normalizeValue(value interface{}) interface{} {
	switch actual := value.(type) {
	case map[string]interface{}:
		return Normalize(actual)
	case []interface{}:
		ret := make([]interface{}, len(actual))
		for i, item := range actual {
			ret[i] = normalizeValue(item)
		}
		return ret
	default:
		return value
	}
}

// AsMap converts any JSON-marshalable schema value into a plain map so it can
// be normalized regardless of the concrete type the protocol layer decoded it
// into.
func AsMap(value interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var ret map[string]interface{}
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}
