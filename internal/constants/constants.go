package constants

// HTTP methods used against OData services
const (
	GET    = "GET"
	POST   = "POST"
	PATCH  = "PATCH"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter      = "$filter"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryCount       = "$count"
	QueryFormat      = "$format"
	QueryInlineCount = "$inlinecount"
)

// OData JSON annotations and v2 envelope members
const (
	ODataCount    = "@odata.count"
	ODataContext  = "@odata.context"
	ODataNextLink = "@odata.nextLink"
	ValueMember   = "value"
	ErrorMember   = "error"
	V2Envelope    = "d"
	V2Results     = "results"
	V2Count       = "__count"
)

// Edm primitive type tags relevant to key and payload encoding
const (
	EdmString  = "Edm.String"
	EdmInt16   = "Edm.Int16"
	EdmInt32   = "Edm.Int32"
	EdmInt64   = "Edm.Int64"
	EdmDecimal = "Edm.Decimal"
	EdmGUID    = "Edm.Guid"
)

// CSRF token headers (SAP gateways)
const (
	CSRFTokenHeader = "X-CSRF-Token"
	CSRFTokenFetch  = "Fetch"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	Authorization = "Authorization"
	UserAgent     = "User-Agent"
	Prefer        = "Prefer"
)

// Content types
const (
	ContentTypeJSON        = "application/json"
	ContentTypeXML         = "application/xml"
	ContentTypeODataJSONV4 = "application/json;odata.metadata=minimal"
	PreferRepresentation   = "return=representation"
)

// MetadataEndpoint is the schema document path relative to the service root
const MetadataEndpoint = "$metadata"

// Generic operation names, used for tool names, spans and default error messages
const (
	OpGetResources     = "get_resources"
	OpDescribeResource = "describe_resource"
	OpGetList          = "get_list"
	OpGetOne           = "get_one"
	OpGetMany          = "get_many"
	OpGetManyReference = "get_many_reference"
	OpCreate           = "create"
	OpUpdate           = "update"
	OpUpdateMany       = "update_many"
	OpDelete           = "delete"
	OpDeleteMany       = "delete_many"
)

// WriteOperations are hidden in read-only mode
var WriteOperations = map[string]bool{
	OpCreate:     true,
	OpUpdate:     true,
	OpUpdateMany: true,
	OpDelete:     true,
	OpDeleteMany: true,
}

// Default values
const (
	DefaultUserAgent     = "odata-provider/1.0 (Go)"
	DefaultTimeout       = 30 // seconds
	DefaultExportPerPage = 500
	DefaultHTTPAddr      = ":8080"

	// DefaultAADClientID is the Azure CLI public client, pre-consented in most tenants
	DefaultAADClientID = "04b07795-8ddb-461a-bbee-02f9e1bf7b46"
)

// MCP-specific constants
const (
	MCPProtocolVersion = "2024-11-05"
	MCPServerName      = "odata-provider"
	MCPServerVersion   = "1.0.0"
)

// DefaultErrorMessage is the fallback message of a failed operation when the
// service supplies neither an error envelope nor a status text
func DefaultErrorMessage(op string) string {
	switch op {
	case OpGetList, OpGetManyReference:
		return "failed to fetch records"
	case OpGetOne, OpGetMany:
		return "failed to fetch record"
	case OpCreate:
		return "failed to create record"
	case OpUpdate:
		return "failed to update record"
	case OpDelete, OpDeleteMany:
		return "failed to delete record"
	default:
		return "request failed"
	}
}
