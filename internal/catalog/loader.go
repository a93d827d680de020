package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"gopkg.in/yaml.v3"
)

// Bundle is the content of a catalog directory.
type Bundle struct {
	Metrics  []*core.ParentMetric
	Variants []*core.Variant
}

type catalogFileYAML struct {
	Metrics  []*core.ParentMetric `yaml:"metrics"`
	Variants []*core.Variant      `yaml:"variants"`
}

// LoadDir reads every *.yaml / *.yml file under dir, in path order. A file
// may hold several YAML documents. Unknown keys and duplicate ids are
// ConfigErrors.
func LoadDir(dir string) (*Bundle, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog directory: %w", err)
	}
	sort.Strings(paths)

	b := &Bundle{}
	metricAt := make(map[string]string)
	variantAt := make(map[string]string)
	var errs []error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs, err := parseCatalogFile(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, doc := range docs {
			for _, m := range doc.Metrics {
				if prev, dup := metricAt[m.MetricID]; dup {
					errs = append(errs, fmt.Errorf("%s: metric %q already defined in %s", path, m.MetricID, prev))
					continue
				}
				metricAt[m.MetricID] = path
				b.Metrics = append(b.Metrics, m)
			}
			for _, v := range doc.Variants {
				if prev, dup := variantAt[v.VariantID]; dup {
					errs = append(errs, fmt.Errorf("%s: variant %q already defined in %s", path, v.VariantID, prev))
					continue
				}
				variantAt[v.VariantID] = path
				b.Variants = append(b.Variants, v)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, core.Wrap(core.KindConfig, "", err, "invalid catalog")
	}
	return b, nil
}

func parseCatalogFile(data []byte) ([]catalogFileYAML, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var docs []catalogFileYAML
	for {
		var doc catalogFileYAML
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Seed upserts every record of b into c, metrics first. Stored records are
// replaced regardless of revision.
func Seed(ctx context.Context, c *Catalog, b *Bundle) error {
	var errs []error
	for _, m := range b.Metrics {
		if _, err := c.UpsertMetric(ctx, m, core.AnyRevision); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range b.Variants {
		if _, err := c.UpsertVariant(ctx, v, core.AnyRevision); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SeedMissing inserts the records of b that c does not hold yet and leaves
// stored records untouched. It returns how many records were added.
func SeedMissing(ctx context.Context, c *Catalog, b *Bundle) (int, error) {
	var (
		errs  []error
		added int
	)
	for _, m := range b.Metrics {
		switch _, err := c.UpsertMetric(ctx, m, 0); {
		case err == nil:
			added++
		case !errors.Is(err, core.ErrConflict):
			errs = append(errs, err)
		}
	}
	for _, v := range b.Variants {
		switch _, err := c.UpsertVariant(ctx, v, 0); {
		case err == nil:
			added++
		case !errors.Is(err, core.ErrConflict):
			errs = append(errs, err)
		}
	}
	return added, errors.Join(errs...)
}
