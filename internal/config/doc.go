// Package config loads, normalizes, and validates shelf configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SHELF_CATALOG_API_KEY. The Config type centralizes every knob the daemon
// and CLI need: state directories, catalog provider limits, enrichment
// thresholds, and notification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
