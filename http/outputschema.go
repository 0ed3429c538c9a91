package http

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// validateOutputSchema checks a successful response body against a route's
// advertised PaymentRequirements.OutputSchema (spec's resource-discovery
// catalog advertises this so clients can validate responses without an
// out-of-band contract). Returns a description of the first violation, or
// "" if the body conforms. A nil schema or empty body is always valid.
func validateOutputSchema(schema map[string]interface{}, body []byte) (string, error) {
	if schema == nil || len(body) == 0 {
		return "", nil
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal output schema: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return "", fmt.Errorf("validate output schema: %w", err)
	}
	if result.Valid() {
		return "", nil
	}
	return result.Errors()[0].String(), nil
}
