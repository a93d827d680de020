package core

import (
	"fmt"
	"strings"
)

// FieldRef addresses a field in the data dictionary.
type FieldRef struct {
	Layer string
	Table string
	Field string
}

// ParseFieldRef parses "layer.table.field" or "table.field".
func ParseFieldRef(s string) (FieldRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	for _, p := range parts {
		if p == "" {
			return FieldRef{}, fmt.Errorf("malformed field reference %q", s)
		}
	}
	switch len(parts) {
	case 3:
		if !IsLayer(parts[0]) {
			return FieldRef{}, fmt.Errorf("field reference %q: unknown layer %q", s, parts[0])
		}
		return FieldRef{Layer: strings.ToUpper(parts[0]), Table: parts[1], Field: parts[2]}, nil
	case 2:
		return FieldRef{Table: parts[0], Field: parts[1]}, nil
	}
	return FieldRef{}, fmt.Errorf("malformed field reference %q", s)
}

// IsLayer reports whether s names a data layer (L1, L2, L3).
func IsLayer(s string) bool {
	switch strings.ToUpper(s) {
	case "L1", "L2", "L3":
		return true
	}
	return false
}

// TableKey returns "layer.table".
func (r FieldRef) TableKey() string {
	if r.Layer == "" {
		return r.Table
	}
	return r.Layer + "." + r.Table
}

// String returns the dotted form of the reference.
func (r FieldRef) String() string {
	return r.TableKey() + "." + r.Field
}

// SourceField is a dictionary entry for one column.
type SourceField struct {
	Layer       string `json:"layer" yaml:"layer"`
	Table       string `json:"table" yaml:"table"`
	Field       string `json:"field" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	DataType    string `json:"data_type,omitempty" yaml:"data_type"`
	SampleValue string `json:"sample_value,omitempty" yaml:"sample_value"`
}

// Ref returns the reference of the field.
func (f SourceField) Ref() FieldRef {
	return FieldRef{Layer: f.Layer, Table: f.Table, Field: f.Field}
}

// TableInfo describes a dictionary table.
type TableInfo struct {
	Layer       string
	Name        string
	Description string
	PrimaryKey  string
	Fields      []SourceField
}

// Key returns "layer.table".
func (t TableInfo) Key() string { return t.Layer + "." + t.Name }

// HasField reports whether the table declares the named field.
func (t TableInfo) HasField(name string) bool {
	for _, f := range t.Fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// Dictionary is the external data-dictionary collaborator.
type Dictionary interface {
	// Field looks up a field. A reference without a layer resolves when the
	// table name is unique across layers.
	Field(ref FieldRef) (SourceField, bool)
	// Table looks up a table by "layer.table" key.
	Table(key string) (TableInfo, bool)
	// Tables lists every table in key order.
	Tables() []TableInfo
	// HierarchyTable is the key of the table mapping facilities to coarser
	// dimensions, or "" when none is configured.
	HierarchyTable() string
}
