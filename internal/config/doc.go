// Package config provides configuration loading and validation for the live
// session service. Configuration is YAML with per-section validation; fields
// missing from the file keep their defaults and GEMINI_API_KEY overrides the
// configured keys.
package config
