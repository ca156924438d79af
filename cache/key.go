package cache

import "encoding/json"

// keyDelimiter separates the endpoint from the serialized options.
const keyDelimiter = ":"

// DeriveKey builds the cache key for a request. Requests without options are
// keyed by endpoint alone; otherwise the options are appended as JSON.
// encoding/json sorts map keys, so equal options always serialize equally.
func DeriveKey(endpoint string, opts any) string {
	if opts == nil {
		return endpoint
	}
	b, err := json.Marshal(opts)
	if err != nil {
		// Unserializable options cannot be compared; identical calls still
		// share the endpoint slot.
		return endpoint
	}
	switch string(b) {
	case "null", "{}", "[]", `""`:
		return endpoint
	}
	return endpoint + keyDelimiter + string(b)
}
