package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCatalog() error {
	parsed, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("catalog.base_url %q is not a valid URL", c.Catalog.BaseURL)
	}
	if c.Catalog.MaxResults > 50 {
		return errors.New("catalog.max_results must not exceed 50")
	}
	if c.Catalog.RequestTimeout < c.Catalog.DialTimeoutSeconds {
		return errors.New("catalog.request_timeout_seconds must be at least the dial timeout")
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if c.Enrichment.AcceptThreshold > 200 {
		return errors.New("enrichment.accept_threshold is out of range")
	}
	if c.Enrichment.FuzzyThreshold > 100 {
		return errors.New("enrichment.fuzzy_duplicate_threshold must be between 1 and 100")
	}
	if c.Enrichment.MaxAttempts > 10 {
		return errors.New("enrichment.max_attempts must not exceed 10")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}
