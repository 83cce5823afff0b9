// Package config loads, validates, and normalizes quill's TOML
// configuration.
//
// Defaults live in defaults.go, validation rules in validate.go. Load
// resolves the config path (explicit flag, ~/.config/quill/config.toml, or a
// project-local quill.toml), expands ~ in all directory fields, and returns
// a fully validated Config. A sample file is embedded for `quill config init`.
package config
