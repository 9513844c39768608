// Package identity exposes entity keys under the generic "id" field.
package identity

import (
	"github.com/zmcp/odata-provider/internal/models"
)

// KeyMap maps resources to the name of their key property when it differs
// from models.IdentityField. It is built once and never modified.
type KeyMap struct {
	keys map[string]string
}

// NewKeyMap builds the table from a catalog
func NewKeyMap(catalog *models.Catalog) *KeyMap {
	km := &KeyMap{keys: make(map[string]string)}
	for _, set := range catalog.Sets() {
		if key := set.KeyName(); key != models.IdentityField {
			km.keys[models.NormalizeResource(set.Name)] = key
		}
	}
	return km
}

// KeyName returns the real key name for resource and whether it is aliased
func (m *KeyMap) KeyName(resource string) (string, bool) {
	key, ok := m.keys[models.NormalizeResource(resource)]
	return key, ok
}

// ToGeneric returns a copy of record with the key value also stored under
// "id". The original key field is retained. Records of resources keyed by
// "id" are returned unchanged.
func (m *KeyMap) ToGeneric(resource string, record models.Record) models.Record {
	if record == nil {
		return nil
	}
	key, ok := m.KeyName(resource)
	if !ok {
		return record
	}
	value, present := record[key]
	if !present {
		return record
	}

	out := make(models.Record, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out[models.IdentityField] = value
	return out
}
