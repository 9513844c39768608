// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/zmcp/odata-provider/internal/mcp"
	"github.com/zmcp/odata-provider/internal/models"
	"github.com/zmcp/odata-provider/internal/provider"
	"github.com/zmcp/odata-provider/internal/response"
)

// errMissingArg marks a required argument that was absent or of the wrong type
var errMissingArg = fmt.Errorf("%w: missing required parameter", models.ErrInvalidParams)

func stringArg(args map[string]interface{}, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s", errMissingArg, name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || (required && s == "") {
		return "", fmt.Errorf("%w: %s must be a non-empty string", models.ErrInvalidParams, name)
	}
	return s, nil
}

// intArg accepts JSON numbers and numeric strings
func intArg(args map[string]interface{}, name string) (int, error) {
	switch v := args[name].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidParams, name)
		}
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidParams, name)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidParams, name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidParams, name)
	}
}

// idArg returns a scalar id; JSON whole numbers are returned as int64
func idArg(args map[string]interface{}, name string, required bool) (interface{}, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return nil, fmt.Errorf("%w: %s", errMissingArg, name)
		}
		return nil, nil
	}
	return scalarID(name, v)
}

func scalarID(name string, v interface{}) (interface{}, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case float64:
		if id == math.Trunc(id) && math.Abs(id) < 1<<53 {
			return int64(id), nil
		}
		return id, nil
	case int, int64, json.Number, bool:
		return id, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string or number, got %T", models.ErrInvalidParams, name, v)
	}
}

func idsArg(args map[string]interface{}, name string) ([]interface{}, error) {
	raw, ok := args[name].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", models.ErrInvalidParams, name)
	}
	ids := make([]interface{}, len(raw))
	for i, v := range raw {
		id, err := scalarID(fmt.Sprintf("%s[%d]", name, i), v)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func recordArg(args map[string]interface{}, name string, required bool) (models.Record, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return nil, fmt.Errorf("%w: %s", errMissingArg, name)
		}
		return nil, nil
	}
	record, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", models.ErrInvalidParams, name)
	}
	return record, nil
}

// listArgs reads the paging, sorting and filter arguments
func listArgs(args map[string]interface{}) (models.Pagination, models.Sort, models.Filter, error) {
	var pagination models.Pagination
	var sort models.Sort
	var err error

	if pagination.Page, err = intArg(args, "page"); err != nil {
		return pagination, sort, nil, err
	}
	if pagination.PerPage, err = intArg(args, "per_page"); err != nil {
		return pagination, sort, nil, err
	}
	if sort.Field, err = stringArg(args, "sort_field", false); err != nil {
		return pagination, sort, nil, err
	}
	order, err := stringArg(args, "sort_order", false)
	if err != nil {
		return pagination, sort, nil, err
	}
	sort.Order = models.ParseSortOrder(order)

	filter, err := recordArg(args, "filter", false)
	return pagination, sort, filter, err
}

func (b *ODataBridge) handleGetResources(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return b.provider.GetResources(ctx)
}

func (b *ODataBridge) handleDescribeResource(_ context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	set, err := b.provider.Resource(resource)
	if err != nil {
		return nil, err
	}
	return Describe(set), nil
}

// Describe lists the fields, key and navigation properties of a resource
func Describe(set *models.EntitySet) map[string]interface{} {
	properties := make([]map[string]interface{}, 0, len(set.Type.Properties))
	for _, prop := range set.Type.Properties {
		properties = append(properties, map[string]interface{}{
			"name":     prop.Name,
			"type":     prop.Type,
			"nullable": prop.Nullable,
			"is_key":   prop == set.Type.Key,
		})
	}

	navigation := make([]map[string]interface{}, 0, len(set.Type.NavigationProperties))
	for _, nav := range set.Type.NavigationProperties {
		navigation = append(navigation, map[string]interface{}{
			"name":       nav.Name,
			"type":       nav.Type,
			"collection": nav.Collection,
		})
	}

	return map[string]interface{}{
		"resource":              set.URLSegment,
		"entity_type":           set.Type.QualifiedName(),
		"key":                   set.KeyName(),
		"key_type":              set.Type.Key.Type,
		"identity_field":        models.IdentityField,
		"properties":            properties,
		"navigation_properties": navigation,
	}
}

func (b *ODataBridge) handleGetList(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	pagination, sort, filter, err := listArgs(args)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", false)
	if err != nil {
		return nil, err
	}
	related, err := stringArg(args, "related", false)
	if err != nil {
		return nil, err
	}

	return b.provider.GetList(ctx, resource, models.ListParams{
		Pagination: pagination,
		Sort:       sort,
		Filter:     filter,
		ID:         id,
		Related:    related,
	})
}

func (b *ODataBridge) handleGetOne(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	return b.provider.GetOne(ctx, resource, id)
}

// manyItem is the JSON form of a GetMany slot
type manyItem struct {
	ID    interface{}   `json:"id"`
	Data  models.Record `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (b *ODataBridge) handleGetMany(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	ids, err := idsArg(args, "ids")
	if err != nil {
		return nil, err
	}

	result, err := b.provider.GetMany(ctx, resource, ids)
	if err != nil {
		return nil, err
	}

	items := make([]manyItem, len(result.Items))
	for i, item := range result.Items {
		items[i] = manyItem{ID: item.ID, Data: item.Record, Error: item.ErrorMessage()}
	}
	return map[string]interface{}{"data": items}, nil
}

func (b *ODataBridge) handleGetManyReference(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	target, err := stringArg(args, "target", true)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", false)
	if err != nil {
		return nil, err
	}
	parent, err := stringArg(args, "parent", false)
	if err != nil {
		return nil, err
	}
	pagination, sort, filter, err := listArgs(args)
	if err != nil {
		return nil, err
	}

	params := models.ReferenceParams{
		Target:     target,
		ID:         id,
		Pagination: pagination,
		Sort:       sort,
		Filter:     filter,
	}
	if parent != "" {
		params.Relation = models.Expand{Parent: parent}
	}
	return b.provider.GetManyReference(ctx, resource, params)
}

func (b *ODataBridge) handleCreate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	data, err := recordArg(args, "data", true)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", false)
	if err != nil {
		return nil, err
	}
	related, err := stringArg(args, "related", false)
	if err != nil {
		return nil, err
	}
	return b.provider.Create(ctx, resource, models.CreateParams{Data: data, ID: id, Related: related})
}

func (b *ODataBridge) handleUpdate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	data, err := recordArg(args, "data", true)
	if err != nil {
		return nil, err
	}
	return b.provider.Update(ctx, resource, models.UpdateParams{ID: id, Data: data})
}

func (b *ODataBridge) handleUpdateMany(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	ids, _ := idsArg(args, "ids")
	data, _ := recordArg(args, "data", false)
	return nil, b.provider.UpdateMany(ctx, resource, ids, data)
}

func (b *ODataBridge) handleDelete(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	id, err := idArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	previous, err := recordArg(args, "previous_data", false)
	if err != nil {
		return nil, err
	}
	return b.provider.Delete(ctx, resource, models.DeleteParams{ID: id, PreviousData: previous})
}

// deleteFailure is the JSON form of a DeleteMany failure
type deleteFailure struct {
	ID    interface{} `json:"id"`
	Error string      `json:"error"`
}

func (b *ODataBridge) handleDeleteMany(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resource, err := stringArg(args, "resource", true)
	if err != nil {
		return nil, err
	}
	ids, err := idsArg(args, "ids")
	if err != nil {
		return nil, err
	}

	result, err := b.provider.DeleteMany(ctx, resource, ids)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{"data": result.IDs}
	if len(result.Failures) > 0 {
		failures := make([]deleteFailure, len(result.Failures))
		for i, f := range result.Failures {
			failures[i] = deleteFailure{ID: f.ID, Error: f.Err.Error()}
		}
		out["failures"] = failures
	}
	return out, nil
}

// toolError maps provider errors onto JSON-RPC codes. Caller mistakes and
// 4xx answers that point at the request are invalid params; the rest are
// internal errors.
func toolError(op string, err error) error {
	var odataErr *response.Error
	switch {
	case errors.As(err, &odataErr):
		code := mcp.CodeInternalError
		switch odataErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			code = mcp.CodeInvalidParams
		}
		return &mcp.ToolError{
			Code:    code,
			Message: odataErr.Detailed(),
			Data: map[string]interface{}{
				"kind":   odataErr.Kind,
				"status": odataErr.StatusCode,
			},
		}
	case errors.Is(err, provider.ErrUnsupportedOperation):
		return &mcp.ToolError{Code: mcp.CodeMethodNotFound, Message: fmt.Sprintf("%s is not supported", op), Err: err}
	case errors.Is(err, models.ErrUnknownResource), errors.Is(err, models.ErrInvalidParams):
		return &mcp.ToolError{Code: mcp.CodeInvalidParams, Message: "invalid arguments", Err: err}
	default:
		return &mcp.ToolError{Code: mcp.CodeInternalError, Message: "request failed", Err: err}
	}
}
