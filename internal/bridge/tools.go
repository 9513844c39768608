// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/mcp"
)

type toolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

type toolSpec struct {
	op          string
	description string
	properties  map[string]interface{}
	required    []string
	handler     toolHandler
}

func str(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func integer(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description, "minimum": 0}
}

func object(description string) map[string]interface{} {
	return map[string]interface{}{"type": "object", "description": description}
}

func idSchema(description string) map[string]interface{} {
	return map[string]interface{}{"type": []string{"string", "integer"}, "description": description}
}

func idsSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": []string{"string", "integer"}},
	}
}

func resourceSchema() map[string]interface{} {
	return str("Resource (entity set) name, e.g. 'Products'. Case-insensitive.")
}

// listProperties are shared by get_list and get_many_reference
func listProperties(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"resource":   resourceSchema(),
		"page":       integer("1-based page number (default 1)"),
		"per_page":   integer("Records per page (default 25)"),
		"sort_field": str("Field to sort by; defaults to the resource key"),
		"sort_order": map[string]interface{}{"type": "string", "enum": []string{"asc", "desc"}, "description": "Sort direction"},
		"filter":     object("Field to substring map; every entry must match"),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// toolSpecs returns the tool set in registration order
func (b *ODataBridge) toolSpecs() []toolSpec {
	read := []toolSpec{
		{
			op:          constants.OpGetResources,
			description: "List the resources (entity sets) this service exposes",
			properties:  map[string]interface{}{},
			handler:     b.handleGetResources,
		},
		{
			op:          constants.OpDescribeResource,
			description: "Describe a resource: key field, declared properties with Edm types, navigation properties",
			properties:  map[string]interface{}{"resource": resourceSchema()},
			required:    []string{"resource"},
			handler:     b.handleDescribeResource,
		},
		{
			op:          constants.OpGetList,
			description: "List records of a resource with paging, sorting and substring filters. With id and related, lists a navigation collection of one record.",
			properties: listProperties(map[string]interface{}{
				"id":      idSchema("Key of the parent record when listing a related collection"),
				"related": str("Navigation property to list under the record identified by id"),
			}),
			required: []string{"resource"},
			handler:  b.handleGetList,
		},
		{
			op:          constants.OpGetOne,
			description: "Get one record by key",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"id":       idSchema("Key value"),
			},
			required: []string{"resource", "id"},
			handler:  b.handleGetOne,
		},
		{
			op:          constants.OpGetMany,
			description: "Get several records by key. Results follow the order of ids; a failed id carries an error instead of data.",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"ids":      idsSchema("Key values"),
			},
			required: []string{"resource", "ids"},
			handler:  b.handleGetMany,
		},
		{
			op: constants.OpGetManyReference,
			description: "List records related to another record. With parent, reads target as a navigation property of parent(id) via $expand. " +
				"Without parent, lists resource filtered on target eq id.",
			properties: listProperties(map[string]interface{}{
				"target": str("Navigation property (with parent) or foreign key field (without parent)"),
				"id":     idSchema("Key of the referenced record"),
				"parent": str("Parent resource whose navigation property target is expanded"),
			}),
			required: []string{"resource", "target"},
			handler:  b.handleGetManyReference,
		},
	}

	write := []toolSpec{
		{
			op:          constants.OpCreate,
			description: "Create a record. With id and related, creates it under a navigation collection of that record.",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"data":     object("Field values of the new record"),
				"id":       idSchema("Key of the parent record for a related create"),
				"related":  str("Navigation property of the parent record"),
			},
			required: []string{"resource", "data"},
			handler:  b.handleCreate,
		},
		{
			op:          constants.OpUpdate,
			description: "Update fields of one record (PATCH)",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"id":       idSchema("Key value"),
				"data":     object("Fields to change"),
			},
			required: []string{"resource", "id", "data"},
			handler:  b.handleUpdate,
		},
		{
			op:          constants.OpUpdateMany,
			description: "Update several records at once. Not supported by this service; always fails.",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"ids":      idsSchema("Key values"),
				"data":     object("Fields to change"),
			},
			required: []string{"resource", "ids", "data"},
			handler:  b.handleUpdateMany,
		},
		{
			op:          constants.OpDelete,
			description: "Delete one record by key",
			properties: map[string]interface{}{
				"resource":      resourceSchema(),
				"id":            idSchema("Key value"),
				"previous_data": object("Record to return when the service answers with an empty body"),
			},
			required: []string{"resource", "id"},
			handler:  b.handleDelete,
		},
		{
			op:          constants.OpDeleteMany,
			description: "Delete several records by key. Returns deleted ids and per-id failures.",
			properties: map[string]interface{}{
				"resource": resourceSchema(),
				"ids":      idsSchema("Key values"),
			},
			required: []string{"resource", "ids"},
			handler:  b.handleDeleteMany,
		},
	}

	return append(read, write...)
}

// registerTools adds the tool set to the MCP server. Read-only mode skips
// modifying operations.
func (b *ODataBridge) registerTools() {
	for _, def := range b.toolSpecs() {
		if b.opts.ReadOnly && constants.WriteOperations[def.op] {
			continue
		}

		schema := map[string]interface{}{
			"type":       "object",
			"properties": def.properties,
		}
		if len(def.required) > 0 {
			schema["required"] = def.required
		}

		name := b.opts.ToolPrefix + def.op
		b.server.AddTool(&mcp.Tool{
			Name:        name,
			Description: def.description,
			InputSchema: schema,
		}, b.wrap(def.op, def.handler))
		b.tools = append(b.tools, name)
	}
}

// wrap maps handler errors onto typed MCP tool errors
func (b *ODataBridge) wrap(op string, handler toolHandler) mcp.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := handler(ctx, args)
		if err != nil {
			return nil, toolError(op, err)
		}
		return result, nil
	}
}
