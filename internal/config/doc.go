// Package config loads and validates the go-mark-sync configuration.
//
// Values come from three sources, merged in priority order: environment
// variables, command-line flags, and an optional JSON file named by either of
// the first two. Merging uses mergo, so earlier sources win and later ones
// only fill gaps.
package config
