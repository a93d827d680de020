// Package dictionary provides the YAML-backed data dictionary: the tables and
// fields metrics may reference, grouped by layer.
package dictionary

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"gopkg.in/yaml.v3"
)

// Dictionary is an immutable, in-memory core.Dictionary.
type Dictionary struct {
	tables    map[string]core.TableInfo
	byName    map[string][]string
	hierarchy string
}

var _ core.Dictionary = (*Dictionary)(nil)

// New builds a dictionary from table definitions. Table keys must be unique
// and every table must carry a layer.
func New(tables []core.TableInfo, hierarchyTable string) (*Dictionary, error) {
	d := &Dictionary{
		tables:    make(map[string]core.TableInfo, len(tables)),
		byName:    make(map[string][]string),
		hierarchy: hierarchyTable,
	}
	var errs []error
	for _, t := range tables {
		t.Layer = strings.ToUpper(t.Layer)
		if !core.IsLayer(t.Layer) {
			errs = append(errs, fmt.Errorf("table %q: invalid layer %q", t.Name, t.Layer))
			continue
		}
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s table without a name", t.Layer))
			continue
		}
		key := t.Key()
		if _, dup := d.tables[key]; dup {
			errs = append(errs, fmt.Errorf("duplicate table %s", key))
			continue
		}
		fields := make([]core.SourceField, len(t.Fields))
		for i, f := range t.Fields {
			f.Layer, f.Table = t.Layer, t.Name
			fields[i] = f
		}
		t.Fields = fields
		d.tables[key] = t
		d.byName[t.Name] = append(d.byName[t.Name], key)
	}
	if hierarchyTable != "" {
		if _, ok := d.tables[hierarchyTable]; !ok {
			errs = append(errs, fmt.Errorf("hierarchy table %s is not defined", hierarchyTable))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, core.Wrap(core.KindConfig, "", err, "invalid data dictionary")
	}
	return d, nil
}

// Field looks up a field. A reference without a layer resolves only when the
// table name is unique across layers.
func (d *Dictionary) Field(ref core.FieldRef) (core.SourceField, bool) {
	key := ref.TableKey()
	if ref.Layer == "" {
		keys := d.byName[ref.Table]
		if len(keys) != 1 {
			return core.SourceField{}, false
		}
		key = keys[0]
	}
	t, ok := d.tables[key]
	if !ok {
		return core.SourceField{}, false
	}
	for _, f := range t.Fields {
		if f.Field == ref.Field {
			return f, true
		}
	}
	return core.SourceField{}, false
}

// Table looks up a table by "layer.table" key.
func (d *Dictionary) Table(key string) (core.TableInfo, bool) {
	t, ok := d.tables[key]
	return t, ok
}

// Tables lists every table in key order.
func (d *Dictionary) Tables() []core.TableInfo {
	keys := make([]string, 0, len(d.tables))
	for k := range d.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]core.TableInfo, len(keys))
	for i, k := range keys {
		out[i] = d.tables[k]
	}
	return out
}

// HierarchyTable returns the key of the facility hierarchy table.
func (d *Dictionary) HierarchyTable() string { return d.hierarchy }

// ============================================================================
// YAML loading
// ============================================================================

type fileYAML struct {
	HierarchyTable string      `yaml:"hierarchy_table"`
	Tables         []tableYAML `yaml:"tables"`
}

type tableYAML struct {
	Layer       string             `yaml:"layer"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	PrimaryKey  string             `yaml:"primary_key"`
	Fields      []core.SourceField `yaml:"fields"`
}

// Load reads a dictionary file.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a dictionary document. Unknown keys are rejected.
func Parse(data []byte) (*Dictionary, error) {
	var doc fileYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, core.Wrap(core.KindConfig, "", err, "invalid dictionary YAML")
	}
	tables := make([]core.TableInfo, len(doc.Tables))
	for i, t := range doc.Tables {
		tables[i] = core.TableInfo{
			Layer:       t.Layer,
			Name:        t.Name,
			Description: t.Description,
			PrimaryKey:  t.PrimaryKey,
			Fields:      t.Fields,
		}
	}
	return New(tables, doc.HierarchyTable)
}
