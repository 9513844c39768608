package response

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// normalize unwraps the v2 "d" envelope into the v4 shape: collections are
// returned as {"value": [...], "@odata.count": n} and single entities as is.
func normalize(body map[string]interface{}) map[string]interface{} {
	d, ok := body[constants.V2Envelope]
	if !ok {
		return body
	}

	switch v := d.(type) {
	case map[string]interface{}:
		if results, ok := v[constants.V2Results]; ok {
			normalized := map[string]interface{}{
				constants.ValueMember: results,
			}
			if count, ok := v[constants.V2Count]; ok {
				normalized[constants.ODataCount] = count
			}
			if next, ok := v["__next"]; ok {
				normalized[constants.ODataNextLink] = next
			}
			return normalized
		}
		return v
	case []interface{}:
		// v2 verbose JSON without inline count
		return map[string]interface{}{constants.ValueMember: v}
	default:
		return body
	}
}

// envelopeMessage extracts error.message from an OData error body. Both the
// v4 form {"error":{"message":"..."}} and the v2 form
// {"error":{"message":{"lang":"en","value":"..."}}} are accepted.
func envelopeMessage(body map[string]interface{}) (string, bool) {
	raw, ok := body[constants.ErrorMember]
	if !ok {
		return "", false
	}
	errObj, ok := raw.(map[string]interface{})
	if !ok {
		return "", false
	}

	switch msg := errObj["message"].(type) {
	case string:
		return msg, msg != ""
	case map[string]interface{}:
		if value, ok := msg["value"].(string); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// decodeError decodes the full error envelope for callers that want the code
// and details
func decodeError(body []byte) *models.ODataError {
	var envelope struct {
		Error *models.ODataError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	return envelope.Error
}

// parseCount accepts counts as JSON numbers or, in v2, strings
func parseCount(raw interface{}) (int64, bool) {
	switch c := raw.(type) {
	case float64:
		return int64(c), true
	case json.Number:
		n, err := c.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// toRecords converts a decoded JSON array into records, skipping non-objects
func toRecords(raw interface{}) ([]models.Record, bool) {
	// v2 nests expanded collections in {"results": [...]}
	if m, ok := raw.(map[string]interface{}); ok {
		raw = m[constants.V2Results]
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]interface{}); ok {
			records = append(records, record)
		}
	}
	return records, true
}
