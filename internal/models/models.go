package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownResource is returned when a resource is not present in the catalog,
	// either because the service does not declare it or because its key is unsupported.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrInvalidParams is returned for malformed operation parameters.
	ErrInvalidParams = errors.New("invalid parameters")
)

// IdentityField is the primary-key field name assumed by the generic contract
const IdentityField = "id"

// EntityProperty represents a scalar property of an OData entity type
type EntityProperty struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // Edm type tag (e.g., "Edm.Int32")
	Nullable bool   `json:"nullable"`
}

// NavigationProperty represents a relationship declared on an entity type
type NavigationProperty struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Collection bool   `json:"collection"`
}

// EntityType is a retained entity type. Key is never nil for types in a Catalog.
type EntityType struct {
	Name                 string                `json:"name"`
	Namespace            string                `json:"namespace"`
	Properties           []*EntityProperty     `json:"properties"`
	Key                  *EntityProperty       `json:"key"`
	NavigationProperties []*NavigationProperty `json:"navigation_properties,omitempty"`
}

// QualifiedName returns {namespace}.{name}
func (t *EntityType) QualifiedName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Property looks up a declared scalar property by exact name
func (t *EntityType) Property(name string) (*EntityProperty, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Navigation looks up a navigation property by exact name
func (t *EntityType) Navigation(name string) (*NavigationProperty, bool) {
	for _, n := range t.NavigationProperties {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// EntitySet is an addressable, supported resource
type EntitySet struct {
	Name       string      `json:"name"`
	URLSegment string      `json:"url_segment"`
	Type       *EntityType `json:"type"`
}

// KeyName returns the name of the set's key property
func (s *EntitySet) KeyName() string {
	return s.Type.Key.Name
}

// Catalog maps lower-cased resource names to entity sets. It is built once by
// metadata.Discover and must not be modified afterwards.
type Catalog struct {
	Version string
	// Fingerprint identifies the schema document the catalog was built from
	Fingerprint string
	sets        map[string]*EntitySet
}

// NewCatalog builds a catalog from already-validated entity sets
func NewCatalog(version string, sets []*EntitySet) *Catalog {
	c := &Catalog{
		Version: version,
		sets:    make(map[string]*EntitySet, len(sets)),
	}
	for _, s := range sets {
		c.sets[NormalizeResource(s.Name)] = s
	}
	return c
}

// NormalizeResource is the single case-folding rule for resource addressing
func NormalizeResource(resource string) string {
	return strings.ToLower(strings.TrimSpace(resource))
}

// Lookup resolves a resource name case-insensitively
func (c *Catalog) Lookup(resource string) (*EntitySet, error) {
	if set, ok := c.sets[NormalizeResource(resource)]; ok {
		return set, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
}

// Sets returns all entity sets ordered by display name
func (c *Catalog) Sets() []*EntitySet {
	out := make([]*EntitySet, 0, len(c.sets))
	for _, s := range c.sets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URLSegment < out[j].URLSegment })
	return out
}

// Len returns the number of addressable resources
func (c *Catalog) Len() int {
	return len(c.sets)
}

// IsV4 reports whether the schema document declared OData 4.x
func (c *Catalog) IsV4() bool {
	return strings.HasPrefix(c.Version, "4.")
}

// ODataError is the body of the OData error envelope {"error": {...}}
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Target     string                 `json:"target,omitempty"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
}

// ODataErrorDetail represents one entry of ODataError.Details
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}
