package utils

import (
	"github.com/shopspring/decimal"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// Edm.DateTime is only written by v2 services
const edmDateTime = "Edm.DateTime"

// PrepareV2Payload returns a copy of data adjusted to OData v2 JSON rules
// using the declared property types of entityType:
//
//   - Edm.Decimal and Edm.Int64 values are sent as strings
//   - Edm.DateTime values given in ISO 8601 are sent as /Date(ms)/
//
// Undeclared fields are passed through unchanged.
func PrepareV2Payload(entityType *models.EntityType, data models.Record) models.Record {
	if data == nil || entityType == nil {
		return data
	}
	out := make(models.Record, len(data))
	for field, value := range data {
		prop, ok := entityType.Property(field)
		if !ok {
			out[field] = value
			continue
		}
		switch prop.Type {
		case constants.EdmDecimal, constants.EdmInt64:
			out[field] = numericString(value)
		case edmDateTime:
			if s, isString := value.(string); isString {
				out[field] = ISOToLegacy(s)
			} else {
				out[field] = value
			}
		default:
			out[field] = value
		}
	}
	return out
}

// numericString renders a JSON number as an exact decimal string. Non-numeric
// values are returned unchanged.
func numericString(value interface{}) interface{} {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v).String()
	case float32:
		return decimal.NewFromFloat32(v).String()
	case int:
		return decimal.NewFromInt(int64(v)).String()
	case int32:
		return decimal.NewFromInt32(v).String()
	case int64:
		return decimal.NewFromInt(v).String()
	case decimal.Decimal:
		return v.String()
	case string:
		// Normalize "1.50" style input, keep anything that does not parse
		if d, err := decimal.NewFromString(v); err == nil {
			return d.String()
		}
		return v
	default:
		return value
	}
}
