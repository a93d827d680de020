package config

import (
	"errors"
	"fmt"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.CatalogDir == "" {
		errs = append(errs, errors.New("catalog_dir is required"))
	}
	if c.DictionaryPath == "" {
		errs = append(errs, errors.New("dictionary_path is required"))
	}
	switch c.OutputFormat {
	case "", "auto", "text", "markdown", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid output format %q (want auto|text|markdown|json)", c.OutputFormat))
	}
	if c.Populate != nil && c.Populate.Parallelism < 0 {
		errs = append(errs, errors.New("populate.parallelism must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidatePaths checks that the catalog directory, dictionary and sample
// directory exist.
func (c *Config) ValidatePaths() error {
	if _, err := os.Stat(c.CatalogDir); os.IsNotExist(err) {
		return fmt.Errorf("catalog directory does not exist: %s\nHint: Create the directory or use --catalog-dir to specify a different path", c.CatalogDir)
	}
	if _, err := os.Stat(c.DictionaryPath); os.IsNotExist(err) {
		return fmt.Errorf("data dictionary does not exist: %s\nHint: Use --dictionary to specify the dictionary file", c.DictionaryPath)
	}
	if _, err := os.Stat(c.SamplesDir); os.IsNotExist(err) {
		return fmt.Errorf("samples directory does not exist: %s\nHint: Use --samples-dir to specify where <layer>/<table>.csv files live", c.SamplesDir)
	}
	return nil
}
