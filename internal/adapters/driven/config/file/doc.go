// Package file loads the engine configuration from disk.
//
// A configuration file is TOML (the default) or YAML, chosen by extension.
// Per-source fields can be overridden with DS_<SOURCE>_<FIELD> environment
// variables. The Manager validates a complete snapshot before publishing it,
// so readers never observe a half-applied reload.
package file
