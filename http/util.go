package http

import (
	"encoding/base64"
	"encoding/json"
)

func decodeBase64OrEmpty(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(raw)
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
