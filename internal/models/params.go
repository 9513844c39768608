package models

import (
	"fmt"
	"strings"
)

// Record is a single entity as exchanged with callers
type Record = map[string]interface{}

// Filter maps field names to match values
type Filter = map[string]interface{}

// ParentMarker is the generic filter key that selects the expansion strategy
const ParentMarker = "parent"

// DefaultPerPage is used when a caller leaves Pagination.PerPage unset
const DefaultPerPage = 25

// SortOrder is the direction of a Sort
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder accepts asc/desc in any case; anything else is ascending
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// Sort orders a list by a single field
type Sort struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// Pagination selects one page of a list
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// Normalize fills zero values with defaults and rejects negative values
func (p Pagination) Normalize() (Pagination, error) {
	if p.Page < 0 || p.PerPage < 0 {
		return p, fmt.Errorf("%w: page and perPage must be positive (got %d, %d)", ErrInvalidParams, p.Page, p.PerPage)
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PerPage == 0 {
		p.PerPage = DefaultPerPage
	}
	return p, nil
}

// Skip is the zero-based offset of the page
func (p Pagination) Skip() int {
	return (p.Page - 1) * p.PerPage
}

// Top is the page size
func (p Pagination) Top() int {
	return p.PerPage
}

// ListParams are the inputs of GetList. ID and Related list a navigation
// collection under a single entity.
type ListParams struct {
	Pagination Pagination
	Sort       Sort
	Filter     Filter
	ID         interface{}
	Related    string
}

// HasRelated reports whether the list addresses {resource}({id})/{related}
func (p ListParams) HasRelated() bool {
	return p.ID != nil && p.Related != ""
}

// Relation selects how GetManyReference finds related records
type Relation interface {
	relation()
}

// Expand reads Target as a navigation property of Parent({ID}) via $expand
type Expand struct {
	Parent string
}

// FilterOn filters the resource on Target eq ID
type FilterOn struct{}

func (Expand) relation()   {}
func (FilterOn) relation() {}

// RelationFromFilter maps the untyped "parent" filter marker onto a Relation.
// The returned filter no longer contains the marker.
func RelationFromFilter(filter Filter) (Relation, Filter) {
	rest := make(Filter, len(filter))
	var parent string
	for k, v := range filter {
		if k == ParentMarker {
			if s, ok := v.(string); ok {
				parent = s
			}
			continue
		}
		rest[k] = v
	}
	if parent != "" {
		return Expand{Parent: parent}, rest
	}
	return FilterOn{}, rest
}

// ReferenceParams are the inputs of GetManyReference
type ReferenceParams struct {
	Relation   Relation
	Target     string
	ID         interface{}
	Pagination Pagination
	Sort       Sort
	Filter     Filter
}

// CreateParams are the inputs of Create. ID and Related create a child
// under {resource}({id})/{related}.
type CreateParams struct {
	Data    Record
	ID      interface{}
	Related string
}

// HasRelated reports whether the create addresses a navigation collection
func (p CreateParams) HasRelated() bool {
	return p.ID != nil && p.Related != ""
}

// UpdateParams are the inputs of Update
type UpdateParams struct {
	ID   interface{}
	Data Record
}

// DeleteParams are the inputs of Delete. PreviousData, when set, is returned
// if the service answers with an empty body.
type DeleteParams struct {
	ID           interface{}
	PreviousData Record
}
