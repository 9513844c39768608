package query

import (
	"errors"
	"fmt"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// ErrNoScope is returned by Reference when no scoping id was supplied.
// Callers answer it with an empty list instead of issuing a request.
var ErrNoScope = errors.New("no scoping id")

// Translator builds OData requests for the generic operations. It only reads
// the catalog, so a single Translator may be shared between goroutines.
type Translator struct {
	catalog *models.Catalog
}

// NewTranslator creates a translator over an immutable catalog
func NewTranslator(catalog *models.Catalog) *Translator {
	return &Translator{catalog: catalog}
}

func (t *Translator) builder() *Builder {
	return NewBuilder(t.catalog.IsV4())
}

// List builds the request for GetList
func (t *Translator) List(resource string, params models.ListParams) (*Request, error) {
	set, err := t.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	page, err := params.Pagination.Normalize()
	if err != nil {
		return nil, err
	}

	b := t.builder().Resource(set)
	sortField := params.Sort.Field
	if params.HasRelated() {
		b.Key(params.ID).Navigate(params.Related)
		if sortField == "" {
			sortField = relatedKey(t.catalog, set, params.Related)
		}
	} else if sortField == "" {
		sortField = set.KeyName()
	}

	return b.Contains(params.Filter).
		OrderBy(sortField, params.Sort.Order).
		Page(page).
		Count().
		Build()
}

// relatedKey resolves the key of a navigation target so related lists get a
// stable default order. It returns "" when the target is not in the catalog.
func relatedKey(catalog *models.Catalog, set *models.EntitySet, navigation string) string {
	if target, ok := NavigationTarget(catalog, set, navigation); ok {
		return target.KeyName()
	}
	return ""
}

// NavigationTarget finds the entity set whose type is the target of the
// navigation property of set. When several sets share that type the first
// in name order wins.
func NavigationTarget(catalog *models.Catalog, set *models.EntitySet, navigation string) (*models.EntitySet, bool) {
	nav, ok := set.Type.Navigation(navigation)
	if !ok {
		return nil, false
	}
	for _, candidate := range catalog.Sets() {
		if candidate.Type.QualifiedName() == nav.Type || candidate.Type.Name == nav.Type {
			return candidate, true
		}
	}
	return nil, false
}

// One builds the request for GetOne
func (t *Translator) One(resource string, id interface{}) (*Request, error) {
	set, err := t.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("%w: id is required", models.ErrInvalidParams)
	}
	return t.builder().Resource(set).Key(id).Build()
}

// Many builds one GetOne request per id, in id order
func (t *Translator) Many(resource string, ids []interface{}) ([]*Request, error) {
	requests := make([]*Request, 0, len(ids))
	for _, id := range ids {
		req, err := t.One(resource, id)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// Reference builds the request for GetManyReference. When params.Relation is
// nil it is derived from the "parent" marker of params.Filter.
func (t *Translator) Reference(resource string, params models.ReferenceParams) (*Request, models.Relation, error) {
	relation, filter := params.Relation, params.Filter
	if relation == nil {
		relation, filter = models.RelationFromFilter(params.Filter)
	}

	switch rel := relation.(type) {
	case models.Expand:
		parent, err := t.catalog.Lookup(rel.Parent)
		if err != nil {
			return nil, relation, err
		}
		if params.Target == "" {
			return nil, relation, fmt.Errorf("%w: target is required", models.ErrInvalidParams)
		}
		if params.ID == nil {
			return nil, relation, ErrNoScope
		}
		req, err := t.builder().Resource(parent).Key(params.ID).Expand(params.Target).Build()
		return req, relation, err

	case models.FilterOn:
		set, err := t.catalog.Lookup(resource)
		if err != nil {
			return nil, relation, err
		}
		if params.Target == "" {
			return nil, relation, fmt.Errorf("%w: target is required", models.ErrInvalidParams)
		}
		if params.ID == nil {
			return nil, relation, ErrNoScope
		}
		page, err := params.Pagination.Normalize()
		if err != nil {
			return nil, relation, err
		}
		sortField := params.Sort.Field
		if sortField == "" {
			sortField = set.KeyName()
		}
		req, err := t.builder().Resource(set).
			Eq(params.Target, params.ID).
			Contains(filter).
			OrderBy(sortField, params.Sort.Order).
			Page(page).
			Count().
			Build()
		return req, relation, err

	default:
		return nil, relation, fmt.Errorf("%w: unsupported relation %T", models.ErrInvalidParams, relation)
	}
}

// Create builds the request for Create
func (t *Translator) Create(resource string, params models.CreateParams) (*Request, error) {
	set, err := t.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	b := t.builder().Method(constants.POST).Resource(set)
	if params.HasRelated() {
		b.Key(params.ID).Navigate(params.Related)
	}
	return b.Body(params.Data).Build()
}

// Update builds a PATCH request; full replacement is not offered
func (t *Translator) Update(resource string, params models.UpdateParams) (*Request, error) {
	set, err := t.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if params.ID == nil {
		return nil, fmt.Errorf("%w: id is required", models.ErrInvalidParams)
	}
	return t.builder().Method(constants.PATCH).Resource(set).Key(params.ID).Body(params.Data).Build()
}

// Delete builds the request for Delete
func (t *Translator) Delete(resource string, id interface{}) (*Request, error) {
	set, err := t.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("%w: id is required", models.ErrInvalidParams)
	}
	return t.builder().Method(constants.DELETE).Resource(set).Key(id).Build()
}
