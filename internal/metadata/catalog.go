package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zmcp/odata-provider/internal/models"
)

// ErrInvalidMetadata is returned when the schema document cannot be used
var ErrInvalidMetadata = errors.New("invalid metadata")

// Discover parses a CSDL document into a catalog of addressable entity sets.
//
// Entity types without a key, with a compound key, or whose key does not
// reference a declared property are dropped, and so are the entity sets that
// reference them.
func Discover(data []byte) (*models.Catalog, error) {
	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("%w: failed to parse metadata XML: %v", ErrInvalidMetadata, err)
	}

	if len(edmx.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("%w: no schemas found in metadata", ErrInvalidMetadata)
	}

	// Pass 1: qualified type name -> supported entity type.
	// Aliases are registered too, since EntitySet/@EntityType may use them.
	types := make(map[string]*models.EntityType)
	for _, schema := range edmx.DataServices.Schemas {
		for _, et := range schema.EntityTypes {
			entityType, ok := buildEntityType(schema.Namespace, et)
			if !ok {
				continue
			}
			types[schema.Namespace+"."+et.Name] = entityType
			if schema.Alias != "" {
				types[schema.Alias+"."+et.Name] = entityType
			}
		}
	}

	// Pass 2: entity sets whose type survived pass 1
	var sets []*models.EntitySet
	for _, schema := range edmx.DataServices.Schemas {
		for _, container := range schema.EntityContainers {
			for _, es := range container.EntitySets {
				entityType, ok := types[es.EntityType]
				if !ok {
					continue
				}
				sets = append(sets, &models.EntitySet{
					Name:       es.Name,
					URLSegment: es.Name,
					Type:       entityType,
				})
			}
		}
	}

	catalog := models.NewCatalog(edmx.Version, sets)
	catalog.Fingerprint = Fingerprint(data)
	return catalog, nil
}

// Fingerprint hashes a schema document so changes between runs can be
// spotted in logs and health output
func Fingerprint(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// buildEntityType converts an XML entity type; ok is false when the key is
// missing or compound
func buildEntityType(namespace string, et EntityType) (*models.EntityType, bool) {
	if et.Key == nil || len(et.Key.PropertyRefs) != 1 {
		return nil, false
	}

	entityType := &models.EntityType{
		Name:                 et.Name,
		Namespace:            namespace,
		Properties:           make([]*models.EntityProperty, 0, len(et.Properties)),
		NavigationProperties: make([]*models.NavigationProperty, 0, len(et.NavigationProperties)),
	}

	for _, prop := range et.Properties {
		entityType.Properties = append(entityType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     prop.Type,
			Nullable: prop.Nullable != "false", // Default to true if not specified
		})
	}

	keyName := et.Key.PropertyRefs[0].Name
	key, ok := entityType.Property(keyName)
	if !ok {
		return nil, false
	}
	entityType.Key = key

	for _, nav := range et.NavigationProperties {
		navType, collection := unwrapCollection(nav.Type)
		if navType == "" {
			navType = nav.ToRole
		}
		entityType.NavigationProperties = append(entityType.NavigationProperties, &models.NavigationProperty{
			Name:       nav.Name,
			Type:       navType,
			Collection: collection,
		})
	}

	return entityType, true
}

// unwrapCollection strips a Collection(...) wrapper
func unwrapCollection(typeName string) (string, bool) {
	if strings.HasPrefix(typeName, "Collection(") && strings.HasSuffix(typeName, ")") {
		return typeName[len("Collection(") : len(typeName)-1], true
	}
	return typeName, false
}
