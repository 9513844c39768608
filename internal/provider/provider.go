// Package provider implements the generic data-provider contract on top of
// an OData service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	servertiming "github.com/mitchellh/go-server-timing"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zmcp/odata-provider/internal/client"
	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/identity"
	"github.com/zmcp/odata-provider/internal/metadata"
	"github.com/zmcp/odata-provider/internal/models"
	"github.com/zmcp/odata-provider/internal/query"
	"github.com/zmcp/odata-provider/internal/response"
	"github.com/zmcp/odata-provider/internal/utils"
)

// ErrUnsupportedOperation is returned by operations the provider does not offer
var ErrUnsupportedOperation = errors.New("unsupported operation")

// defaultFanOut bounds concurrent sub-requests of GetMany and DeleteMany
const defaultFanOut = 8

// Transport executes request descriptions
type Transport interface {
	Do(ctx context.Context, req *query.Request) (*client.Response, error)
}

// MetadataTransport can also download the schema document
type MetadataTransport interface {
	Transport
	FetchMetadata(ctx context.Context) ([]byte, error)
}

// Options tune the provider
type Options struct {
	Verbose bool

	// LegacyDates converts /Date(ms)/ values in responses to ISO 8601
	LegacyDates bool

	// V2NumberAsString sends Edm.Decimal and Edm.Int64 as strings to v2 services
	V2NumberAsString bool

	// AllowResource restricts addressable resources; nil allows all
	AllowResource func(resource string) bool

	// MaxConcurrency bounds GetMany/DeleteMany fan-out; zero uses the default
	MaxConcurrency int

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// DataProvider serves the generic operations against one OData service. It
// holds no mutable state and is safe for concurrent use.
type DataProvider struct {
	transport  Transport
	catalog    *models.Catalog
	translator *query.Translator
	keys       *identity.KeyMap
	opts       Options
	telemetry  *telemetry
}

// New downloads $metadata once and builds a provider over it
func New(ctx context.Context, transport MetadataTransport, opts Options) (*DataProvider, error) {
	doc, err := transport.FetchMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	catalog, err := metadata.Discover(doc)
	if err != nil {
		return nil, err
	}

	if v4Setter, ok := transport.(interface{ SetV4(bool) }); ok {
		v4Setter.SetV4(catalog.IsV4())
	}

	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Discovered %d resources (OData %s, schema %s)\n",
			catalog.Len(), catalog.Version, catalog.Fingerprint)
	}

	return NewWithCatalog(transport, catalog, opts), nil
}

// NewWithCatalog builds a provider over an already discovered catalog
func NewWithCatalog(transport Transport, catalog *models.Catalog, opts Options) *DataProvider {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultFanOut
	}
	return &DataProvider{
		transport:  transport,
		catalog:    catalog,
		translator: query.NewTranslator(catalog),
		keys:       identity.NewKeyMap(catalog),
		opts:       opts,
		telemetry:  newTelemetry(opts.TracerProvider, opts.MeterProvider),
	}
}

// Catalog returns the discovered schema
func (p *DataProvider) Catalog() *models.Catalog {
	return p.catalog
}

// Resource resolves an addressable resource, honoring the allow-list
func (p *DataProvider) Resource(resource string) (*models.EntitySet, error) {
	set, err := p.catalog.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if p.opts.AllowResource != nil && !p.opts.AllowResource(set.Name) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownResource, resource)
	}
	return set, nil
}

// related resolves the entity set behind a navigation property of set and
// applies the allow-list to it. When the target is not in the catalog it
// returns nil, unless an allow-list is configured.
func (p *DataProvider) related(set *models.EntitySet, navigation string) (*models.EntitySet, error) {
	target, ok := query.NavigationTarget(p.catalog, set, navigation)
	if !ok {
		if p.opts.AllowResource != nil {
			return nil, fmt.Errorf("%w: %s/%s", models.ErrUnknownResource, set.Name, navigation)
		}
		return nil, nil
	}
	return p.Resource(target.Name)
}

// GetResources lists the display names of addressable resources
func (p *DataProvider) GetResources(ctx context.Context) (*models.ResourcesResult, error) {
	_, end := p.telemetry.start(ctx, constants.OpGetResources, "")
	defer end(nil)

	names := make([]string, 0, p.catalog.Len())
	for _, set := range p.catalog.Sets() {
		if p.opts.AllowResource == nil || p.opts.AllowResource(set.Name) {
			names = append(names, set.URLSegment)
		}
	}
	return &models.ResourcesResult{Names: names}, nil
}

// GetList returns one page of a resource or of a related collection
func (p *DataProvider) GetList(ctx context.Context, resource string, params models.ListParams) (result *models.ListResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpGetList, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	recordSet := set
	if params.HasRelated() {
		target, err := p.related(set, params.Related)
		if err != nil {
			return nil, err
		}
		if target != nil {
			recordSet = target
		}
	}
	req, err := p.translator.List(resource, params)
	if err != nil {
		return nil, err
	}
	payload, err := p.execute(ctx, constants.OpGetList, req)
	if err != nil {
		return nil, err
	}

	records, total := payload.List()
	return &models.ListResult{Records: p.outbound(recordSet, records), Total: total}, nil
}

// GetOne returns a single record by key
func (p *DataProvider) GetOne(ctx context.Context, resource string, id interface{}) (result *models.RecordResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpGetOne, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	record, err := p.fetchOne(ctx, set, id, constants.OpGetOne)
	if err != nil {
		return nil, err
	}
	return &models.RecordResult{Record: record}, nil
}

func (p *DataProvider) fetchOne(ctx context.Context, set *models.EntitySet, id interface{}, op string) (models.Record, error) {
	req, err := p.translator.One(set.Name, id)
	if err != nil {
		return nil, err
	}
	payload, err := p.execute(ctx, op, req)
	if err != nil {
		return nil, err
	}
	return p.outboundOne(set, payload.Entity()), nil
}

// GetMany fetches several records concurrently. A failing id does not fail
// the call; its slot carries the error instead. Items follow ids order.
func (p *DataProvider) GetMany(ctx context.Context, resource string, ids []interface{}) (result *models.ManyResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpGetMany, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	// Validate every id before the first request goes out
	if _, err := p.translator.Many(set.Name, ids); err != nil {
		return nil, err
	}

	mapper := iter.Mapper[interface{}, models.ManyItem]{MaxGoroutines: p.opts.MaxConcurrency}
	items := mapper.Map(ids, func(id *interface{}) models.ManyItem {
		record, err := p.fetchOne(ctx, set, *id, constants.OpGetMany)
		if err != nil {
			return models.ManyItem{ID: *id, Err: err}
		}
		return models.ManyItem{ID: *id, Record: record}
	})
	return &models.ManyResult{Items: items}, nil
}

// GetManyReference lists records related to one entity, either by expanding
// a navigation property of the parent or by filtering on a foreign key.
// Without a scoping id the result is empty and no request is issued.
func (p *DataProvider) GetManyReference(ctx context.Context, resource string, params models.ReferenceParams) (result *models.ListResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpGetManyReference, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	if params.Relation == nil {
		params.Relation, params.Filter = models.RelationFromFilter(params.Filter)
	}
	recordSet := set
	if expand, ok := params.Relation.(models.Expand); ok {
		parent, err := p.Resource(expand.Parent)
		if err != nil {
			return nil, err
		}
		if params.Target != "" {
			target, err := p.related(parent, params.Target)
			if err != nil {
				return nil, err
			}
			if target != nil {
				recordSet = target
			}
		}
	}

	req, relation, err := p.translator.Reference(resource, params)
	if errors.Is(err, query.ErrNoScope) {
		return &models.ListResult{Records: []models.Record{}, Total: 0}, nil
	}
	if err != nil {
		return nil, err
	}

	payload, err := p.execute(ctx, constants.OpGetManyReference, req)
	if err != nil {
		return nil, err
	}

	if _, ok := relation.(models.Expand); ok {
		records, total := payload.Expanded(params.Target)
		return &models.ListResult{Records: p.outbound(recordSet, records), Total: total}, nil
	}

	records, total := payload.List()
	return &models.ListResult{Records: p.outbound(set, records), Total: total}, nil
}

// Create inserts a record, optionally under {resource}({id})/{related}
func (p *DataProvider) Create(ctx context.Context, resource string, params models.CreateParams) (result *models.RecordResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpCreate, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	bodySet := set
	if params.HasRelated() {
		target, err := p.related(set, params.Related)
		if err != nil {
			return nil, err
		}
		if target != nil {
			bodySet = target
		}
	}
	params.Data = p.inbound(bodySet, params.Data)

	req, err := p.translator.Create(resource, params)
	if err != nil {
		return nil, err
	}
	payload, err := p.execute(ctx, constants.OpCreate, req)
	if err != nil {
		return nil, err
	}

	if payload.Empty() {
		return &models.RecordResult{Record: p.outboundOne(bodySet, params.Data)}, nil
	}
	return &models.RecordResult{Record: p.outboundOne(bodySet, payload.Entity())}, nil
}

// Update applies a partial update (PATCH)
func (p *DataProvider) Update(ctx context.Context, resource string, params models.UpdateParams) (result *models.RecordResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpUpdate, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	params.Data = p.inbound(set, params.Data)

	req, err := p.translator.Update(resource, params)
	if err != nil {
		return nil, err
	}
	payload, err := p.execute(ctx, constants.OpUpdate, req)
	if err != nil {
		return nil, err
	}

	if payload.Empty() {
		// 204: echo the submitted fields with the key
		record := make(models.Record, len(params.Data)+1)
		for k, v := range params.Data {
			record[k] = v
		}
		record[set.KeyName()] = params.ID
		return &models.RecordResult{Record: p.outboundOne(set, record)}, nil
	}
	return &models.RecordResult{Record: p.outboundOne(set, payload.Entity())}, nil
}

// UpdateMany is not offered; every call fails with ErrUnsupportedOperation
func (p *DataProvider) UpdateMany(ctx context.Context, resource string, ids []interface{}, data models.Record) error {
	_, end := p.telemetry.start(ctx, constants.OpUpdateMany, resource)
	err := fmt.Errorf("%w: %s", ErrUnsupportedOperation, constants.OpUpdateMany)
	end(err)
	return err
}

// Delete removes a record. An empty response yields PreviousData, or just
// the key when none was given.
func (p *DataProvider) Delete(ctx context.Context, resource string, params models.DeleteParams) (result *models.RecordResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpDelete, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	record, err := p.deleteOne(ctx, set, params.ID, constants.OpDelete)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = params.PreviousData
	}
	if record == nil {
		record = models.Record{set.KeyName(): params.ID}
	}
	return &models.RecordResult{Record: p.outboundOne(set, record)}, nil
}

// deleteOne returns the deleted entity when the service echoes it, else nil
func (p *DataProvider) deleteOne(ctx context.Context, set *models.EntitySet, id interface{}, op string) (models.Record, error) {
	req, err := p.translator.Delete(set.Name, id)
	if err != nil {
		return nil, err
	}
	payload, err := p.execute(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if payload.Empty() {
		return nil, nil
	}
	return payload.Entity(), nil
}

// DeleteMany deletes several records concurrently. IDs lists the successful
// deletions in request order; Failures lists the rest with their errors.
func (p *DataProvider) DeleteMany(ctx context.Context, resource string, ids []interface{}) (result *models.DeleteManyResult, err error) {
	ctx, end := p.telemetry.start(ctx, constants.OpDeleteMany, resource)
	defer func() { end(err) }()

	set, err := p.Resource(resource)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == nil {
			return nil, fmt.Errorf("%w: id is required", models.ErrInvalidParams)
		}
	}

	mapper := iter.Mapper[interface{}, error]{MaxGoroutines: p.opts.MaxConcurrency}
	errs := mapper.Map(ids, func(id *interface{}) error {
		_, err := p.deleteOne(ctx, set, *id, constants.OpDeleteMany)
		return err
	})

	result = &models.DeleteManyResult{IDs: make([]interface{}, 0, len(ids))}
	for i, id := range ids {
		if errs[i] != nil {
			if p.opts.Verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Delete of %s %v failed: %v\n", set.Name, id, errs[i])
			}
			result.Failures = append(result.Failures, models.ItemFailure{ID: id, Err: errs[i]})
			continue
		}
		result.IDs = append(result.IDs, id)
	}
	return result, nil
}

// execute sends req and classifies the answer. Upstream time is reported as
// a Server-Timing metric when ctx carries a timing header.
func (p *DataProvider) execute(ctx context.Context, op string, req *query.Request) (*response.Payload, error) {
	timing := servertiming.FromContext(ctx).NewMetric("odata").WithDesc(req.Method + " " + req.Path).Start()
	resp, err := p.transport.Do(ctx, req)
	timing.Stop()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", constants.DefaultErrorMessage(op), err)
	}
	payload, err := response.Classify(resp.StatusCode, resp.StatusText, resp.Body, constants.DefaultErrorMessage(op))
	if err != nil && p.opts.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s failed: %v\n", req.Method, req.Path, err)
	}
	return payload, err
}

// inbound adapts write payloads to the service dialect
func (p *DataProvider) inbound(set *models.EntitySet, data models.Record) models.Record {
	if p.opts.V2NumberAsString && !p.catalog.IsV4() {
		return utils.PrepareV2Payload(set.Type, data)
	}
	return data
}

// outboundOne maps a response record to the generic shape
func (p *DataProvider) outboundOne(set *models.EntitySet, record models.Record) models.Record {
	if p.opts.LegacyDates {
		record = utils.LegacyDatesToISO(record)
	}
	return p.keys.ToGeneric(set.Name, record)
}

func (p *DataProvider) outbound(set *models.EntitySet, records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	for i, record := range records {
		out[i] = p.outboundOne(set, record)
	}
	return out
}
