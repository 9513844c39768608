package keycodec

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-provider/internal/models"
)

func testSet(name, keyName, keyType string, extra ...*models.EntityProperty) *models.EntitySet {
	key := &models.EntityProperty{Name: keyName, Type: keyType}
	return &models.EntitySet{
		Name:       name,
		URLSegment: name,
		Type: &models.EntityType{
			Name:       name,
			Namespace:  "NorthwindModel",
			Properties: append([]*models.EntityProperty{key}, extra...),
			Key:        key,
		},
	}
}

func TestKeySegment(t *testing.T) {
	products := testSet("Products", "ProductID", "Edm.Int32")
	customers := testSet("Customers", "CustomerID", "Edm.String")
	tokens := testSet("Tokens", "TokenID", "Edm.Guid")

	tests := []struct {
		name     string
		set      *models.EntitySet
		value    interface{}
		expected string
	}{
		{"int32 from json number", products, float64(1), "Products(1)"},
		{"int32 from int", products, 42, "Products(42)"},
		{"int32 from string", products, "7", "Products(7)"},
		{"large number without exponent", products, float64(12345678), "Products(12345678)"},
		{"string key", customers, "ALFKI", "Customers('ALFKI')"},
		{"string key with quote", customers, "O'Brien", "Customers('O''Brien')"},
		{"numeric value on string key", customers, float64(10), "Customers('10')"},
		{"guid canonicalised", tokens, "6F9619FF-8B86-D011-B42D-00C04FC964FF", "Tokens(6f9619ff-8b86-d011-b42d-00c04fc964ff)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segment, err := KeySegment(tt.set, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, segment)
		})
	}
}

func TestKeySegmentRejectsMalformedKeys(t *testing.T) {
	products := testSet("Products", "ProductID", "Edm.Int32")
	tokens := testSet("Tokens", "TokenID", "Edm.Guid")

	tests := []struct {
		name  string
		set   *models.EntitySet
		value interface{}
	}{
		{"path splice in int32", products, "1)/Orders("},
		{"fraction in int32", products, 1.5},
		{"int32 overflow", products, "4294967296"},
		{"filter splice in int32", products, "1 or 1 eq 1"},
		{"unparseable guid", tokens, "abc"},
		{"guid with trailing path", tokens, "6f9619ff-8b86-d011-b42d-00c04fc964ff)/Secrets("},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segment, err := KeySegment(tt.set, tt.value)
			assert.ErrorIs(t, err, models.ErrInvalidParams)
			assert.Empty(t, segment)
		})
	}
}

func TestEncode(t *testing.T) {
	orders := testSet("Orders", "OrderID", "Edm.Int32",
		&models.EntityProperty{Name: "CustomerID", Type: "Edm.String"},
		&models.EntityProperty{Name: "EmployeeID", Type: "Edm.Int32"},
		&models.EntityProperty{Name: "Freight", Type: "Edm.Decimal"},
	)

	encode := func(set *models.EntitySet, property string, value interface{}) string {
		token, err := Encode(set, property, value)
		require.NoError(t, err)
		return token
	}

	assert.Equal(t, "'VINET'", encode(orders, "CustomerID", "VINET"))
	assert.Equal(t, "5", encode(orders, "EmployeeID", float64(5)))
	assert.Equal(t, "'32.38'", encode(orders, "Freight", decimal.RequireFromString("32.38")))
	// Undeclared properties are passed through unquoted
	assert.Equal(t, "Shipper", encode(orders, "Unknown", "Shipper"))
	assert.Equal(t, "3", encode(nil, "OrderID", 3))

	_, err := Encode(orders, "EmployeeID", "five")
	assert.ErrorIs(t, err, models.ErrInvalidParams)
	assert.Contains(t, err.Error(), "EmployeeID")
}

func TestPredicates(t *testing.T) {
	assert.Equal(t, "contains(CompanyName,'Alfreds')", Contains("CompanyName", "Alfreds"))
	assert.Equal(t, "contains(City,'Land''s End')", Contains("City", "Land's End"))
	assert.Equal(t, "contains(Price,'10')", Contains("Price", 10))
	assert.Equal(t, "CategoryID eq 3", Eq("CategoryID", "3"))
	assert.Equal(t, "CustomerID eq 'ALFKI'", Eq("CustomerID", Quote("ALFKI")))
}

func TestRaw(t *testing.T) {
	assert.Equal(t, "null", Raw(nil))
	assert.Equal(t, "1.5", Raw(1.5))
	assert.Equal(t, "100000000000000000000", Raw(1e20))
	assert.Equal(t, "-3", Raw(int64(-3)))
	assert.Equal(t, "true", Raw(true))
}

func TestSubstringOf(t *testing.T) {
	assert.Equal(t, "substringof('Alfreds',CompanyName)", SubstringOf("CompanyName", "Alfreds"))
}
