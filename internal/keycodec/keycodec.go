// Package keycodec renders entity key values as OData URL tokens.
package keycodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// Encode renders value as a URL token for property of set.
//
// Edm.Int32 and Edm.Guid are emitted unquoted and must parse as such. Every
// other declared type is emitted as a quoted string literal. A property the
// entity type does not declare is emitted unquoted.
func Encode(set *models.EntitySet, property string, value interface{}) (string, error) {
	if set == nil || set.Type == nil {
		return Raw(value), nil
	}
	prop, ok := set.Type.Property(property)
	if !ok {
		return Raw(value), nil
	}
	token, err := EncodeType(prop.Type, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", property, err)
	}
	return token, nil
}

// EncodeType renders value for a declared Edm type tag
func EncodeType(edmType string, value interface{}) (string, error) {
	raw := Raw(value)
	switch edmType {
	case constants.EdmInt32:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not an %s", models.ErrInvalidParams, raw, edmType)
		}
		return strconv.FormatInt(n, 10), nil
	case constants.EdmGUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not an %s", models.ErrInvalidParams, raw, edmType)
		}
		return id.String(), nil
	default:
		return Quote(raw), nil
	}
}

// KeySegment builds {urlSegment}({token}) using the key property of set
func KeySegment(set *models.EntitySet, value interface{}) (string, error) {
	token, err := Encode(set, set.KeyName(), value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", set.URLSegment, token), nil
}

// Quote wraps s as an OData string literal, doubling embedded quotes
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Raw renders value without quoting. Numbers never use exponent notation.
func Raw(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return decimal.NewFromFloat(v).String()
	case float32:
		return decimal.NewFromFloat32(v).String()
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case decimal.Decimal:
		return v.String()
	case uuid.UUID:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Contains renders contains(field,'value')
func Contains(field string, value interface{}) string {
	return fmt.Sprintf("contains(%s,%s)", field, Quote(Raw(value)))
}

// Eq renders field eq token; token must already be encoded
func Eq(field, token string) string {
	return fmt.Sprintf("%s eq %s", field, token)
}

// SubstringOf renders the OData v2 equivalent of Contains
func SubstringOf(field string, value interface{}) string {
	return fmt.Sprintf("substringof(%s,%s)", Quote(Raw(value)), field)
}
