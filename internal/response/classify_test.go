package response

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTransportErrors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		statusText      string
		body            string
		expectedMessage string
	}{
		{
			name:            "v4 envelope wins",
			status:          400,
			statusText:      "Bad Request",
			body:            `{"error":{"code":"E1","message":"Property 'Foo' does not exist"}}`,
			expectedMessage: "Property 'Foo' does not exist",
		},
		{
			name:            "v2 envelope",
			status:          500,
			statusText:      "Internal Server Error",
			body:            `{"error":{"code":"SY/530","message":{"lang":"en","value":"Resource not found"}}}`,
			expectedMessage: "Resource not found",
		},
		{
			name:            "status text without envelope",
			status:          404,
			statusText:      "Not Found",
			body:            `<html>nope</html>`,
			expectedMessage: "Not Found",
		},
		{
			name:            "fallback",
			status:          503,
			body:            ``,
			expectedMessage: "failed to fetch records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Classify(tt.status, tt.statusText, []byte(tt.body), "failed to fetch records")
			assert.Nil(t, payload)

			var respErr *Error
			require.True(t, errors.As(err, &respErr))
			assert.Equal(t, KindTransport, respErr.Kind)
			assert.Equal(t, tt.expectedMessage, respErr.Message)
			assert.Equal(t, tt.status, respErr.StatusCode)
			assert.Equal(t, tt.body, string(respErr.Body))
		})
	}
}

func TestClassifyServerError(t *testing.T) {
	body := `{"error":{"code":"VAL","message":"Name is required","target":"Name","details":[{"message":"must not be empty"}]}}`
	_, err := Classify(200, "OK", []byte(body), "failed to create record")

	var respErr *Error
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, KindServer, respErr.Kind)
	assert.Equal(t, "Name is required", respErr.Message)
	require.NotNil(t, respErr.Detail)
	assert.Equal(t, "VAL", respErr.Detail.Code)
	assert.Contains(t, respErr.Detailed(), "(target: Name)")
	assert.Contains(t, respErr.Detailed(), "must not be empty")
	assert.False(t, respErr.IsNotFound())
}

func TestPayloadList(t *testing.T) {
	t.Run("v4 with count", func(t *testing.T) {
		body := `{"@odata.context":"$metadata#Products","@odata.count":77,"value":[{"ProductID":1},{"ProductID":2}]}`
		payload, err := Classify(200, "OK", []byte(body), "")
		require.NoError(t, err)
		records, total := payload.List()
		assert.Len(t, records, 2)
		assert.Equal(t, int64(77), total)
		assert.Equal(t, float64(1), records[0]["ProductID"])
	})

	t.Run("v2 with string count", func(t *testing.T) {
		body := `{"d":{"__count":"12","results":[{"ID":"A"}],"__next":"Programs?$skip=1"}}`
		payload, err := Classify(200, "OK", []byte(body), "")
		require.NoError(t, err)
		records, total := payload.List()
		assert.Len(t, records, 1)
		assert.Equal(t, int64(12), total)
		assert.Equal(t, "Programs?$skip=1", payload.NextLink())
	})

	t.Run("missing count falls back to length", func(t *testing.T) {
		payload, err := Classify(200, "OK", []byte(`{"value":[{},{},{}]}`), "")
		require.NoError(t, err)
		_, total := payload.List()
		assert.Equal(t, int64(3), total)
	})
}

func TestPayloadEntity(t *testing.T) {
	payload, err := Classify(200, "OK", []byte(`{"@odata.context":"$metadata#Customers/$entity","CustomerID":"ALFKI"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "ALFKI", payload.Entity()["CustomerID"])
	assert.NotContains(t, payload.Entity(), "@odata.context")

	payload, err = Classify(200, "OK", []byte(`{"d":{"__metadata":{"uri":"x"},"Guid":"g1"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Guid": "g1"}, map[string]interface{}(payload.Entity()))

	payload, err = Classify(204, "No Content", nil, "")
	require.NoError(t, err)
	assert.True(t, payload.Empty())
}

func TestPayloadExpanded(t *testing.T) {
	body := `{"CategoryID":1,"Products":[{"ProductID":1},{"ProductID":2},{"ProductID":3}]}`
	payload, err := Classify(200, "OK", []byte(body), "")
	require.NoError(t, err)

	records, total := payload.Expanded("Products")
	assert.Len(t, records, 3)
	assert.Equal(t, int64(3), total)

	records, total = payload.Expanded("Missing")
	assert.Empty(t, records)
	assert.Equal(t, int64(0), total)

	v2, err := Classify(200, "OK", []byte(`{"d":{"Items":{"results":[{"ID":1}]}}}`), "")
	require.NoError(t, err)
	records, total = v2.Expanded("Items")
	assert.Len(t, records, 1)
	assert.Equal(t, int64(1), total)
}

func TestClassifyInvalidJSON(t *testing.T) {
	_, err := Classify(200, "OK", []byte("not json"), "")
	require.Error(t, err)
	var respErr *Error
	assert.False(t, errors.As(err, &respErr))
}
