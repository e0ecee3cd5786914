package httpgate

import "encoding/json"

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// mustJSON marshals v, returning an empty JSON object on failure rather
// than panicking mid-response — used only on the error-formatting path
// where we are already constructing a best-effort error body.
func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
