package models

// ListResult is returned by GetList and GetManyReference
type ListResult struct {
	Records []Record `json:"data"`
	Total   int64    `json:"total"`
}

// RecordResult is returned by single-entity operations
type RecordResult struct {
	Record Record `json:"data"`
}

// ManyItem is one slot of a GetMany result. Exactly one of Record and Err is set.
type ManyItem struct {
	ID     interface{} `json:"id"`
	Record Record      `json:"data,omitempty"`
	Err    error       `json:"-"`
}

// ErrorMessage exposes Err for JSON encoding
func (i ManyItem) ErrorMessage() string {
	if i.Err == nil {
		return ""
	}
	return i.Err.Error()
}

// ManyResult is returned by GetMany; Items follow the requested id order
type ManyResult struct {
	Items []ManyItem `json:"data"`
}

// ItemFailure records why one id of a batch failed
type ItemFailure struct {
	ID  interface{} `json:"id"`
	Err error       `json:"-"`
}

// DeleteManyResult is returned by DeleteMany. IDs holds successful deletions
// in request order; Failures holds the rest.
type DeleteManyResult struct {
	IDs      []interface{} `json:"data"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

// ResourcesResult is returned by GetResources
type ResourcesResult struct {
	Names []string `json:"data"`
}
