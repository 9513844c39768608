// Package query translates generic data-provider calls into OData requests.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/keycodec"
	"github.com/zmcp/odata-provider/internal/models"
)

// Request is a transport-neutral description of one OData call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   models.Record
}

// URL returns the request path with its encoded query string
func (r *Request) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + EncodeQuery(r.Query)
}

// EncodeQuery encodes values with %20 for spaces, which OData services
// expect instead of '+'
func EncodeQuery(values url.Values) string {
	return strings.ReplaceAll(values.Encode(), "+", "%20")
}

// Builder assembles a Request step by step
type Builder struct {
	method   string
	v4       bool
	set      *models.EntitySet
	segments []string
	filters  []string
	query    url.Values
	body     models.Record
	err      error
}

// NewBuilder starts a GET request. v4 selects $count=true and contains()
// over the v2 $inlinecount and substringof() forms.
func NewBuilder(v4 bool) *Builder {
	return &Builder{
		method: constants.GET,
		v4:     v4,
		query:  url.Values{},
	}
}

// Method sets the HTTP method
func (b *Builder) Method(method string) *Builder {
	b.method = method
	return b
}

// Resource addresses an entity set
func (b *Builder) Resource(set *models.EntitySet) *Builder {
	b.set = set
	b.segments = append(b.segments, set.URLSegment)
	return b
}

// Key appends a key predicate to the resource segment. A value that does not
// fit the key type fails the build.
func (b *Builder) Key(id interface{}) *Builder {
	if b.set == nil || b.err != nil {
		return b
	}
	segment, err := keycodec.KeySegment(b.set, id)
	if err != nil {
		b.err = err
		return b
	}
	b.segments[len(b.segments)-1] = segment
	return b
}

// Navigate appends a navigation property segment
func (b *Builder) Navigate(property string) *Builder {
	b.segments = append(b.segments, property)
	return b
}

// Contains adds one substring clause per field, in sorted field order
func (b *Builder) Contains(filter models.Filter) *Builder {
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if b.v4 {
			b.filters = append(b.filters, keycodec.Contains(field, filter[field]))
		} else {
			b.filters = append(b.filters, keycodec.SubstringOf(field, filter[field]))
		}
	}
	return b
}

// Eq adds an equality clause, encoding value by the declared type of field
func (b *Builder) Eq(field string, value interface{}) *Builder {
	if b.err != nil {
		return b
	}
	token, err := keycodec.Encode(b.set, field, value)
	if err != nil {
		b.err = err
		return b
	}
	b.filters = append(b.filters, keycodec.Eq(field, token))
	return b
}

// OrderBy sets a single $orderby clause
func (b *Builder) OrderBy(field string, order models.SortOrder) *Builder {
	if field == "" {
		return b
	}
	if order == "" {
		order = models.SortAsc
	}
	b.query.Set(constants.QueryOrderBy, field+" "+string(order))
	return b
}

// Skip sets $skip
func (b *Builder) Skip(n int) *Builder {
	b.query.Set(constants.QuerySkip, strconv.Itoa(n))
	return b
}

// Top sets $top
func (b *Builder) Top(n int) *Builder {
	b.query.Set(constants.QueryTop, strconv.Itoa(n))
	return b
}

// Page sets $skip and $top from a normalized pagination
func (b *Builder) Page(p models.Pagination) *Builder {
	return b.Skip(p.Skip()).Top(p.Top())
}

// Count requests the inline total count
func (b *Builder) Count() *Builder {
	if b.v4 {
		b.query.Set(constants.QueryCount, "true")
	} else {
		b.query.Set(constants.QueryInlineCount, "allpages")
	}
	return b
}

// Expand inlines a navigation property
func (b *Builder) Expand(property string) *Builder {
	b.query.Set(constants.QueryExpand, property)
	return b
}

// Body sets the request payload
func (b *Builder) Body(data models.Record) *Builder {
	b.body = data
	return b
}

// Build returns the assembled request, or the first encoding error
func (b *Builder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.filters) > 0 {
		b.query.Set(constants.QueryFilter, strings.Join(b.filters, " and "))
	}
	return &Request{
		Method: b.method,
		Path:   strings.Join(b.segments, "/"),
		Query:  b.query,
		Body:   b.body,
	}, nil
}
