// Package config loads researchd configuration. Layering follows
// Default() -> YAML file -> RESEARCHD_* environment overlay, with optional
// .env loading for local development.
package config
