// Package configs provides the embedded configuration template written by
// `kbfusion config init`.
//
// The template is embedded at build time so that it ships with every
// binary. Edit project-config.example.yaml and rebuild to change it; keep
// its values in step with config.NewConfig().
package configs

import _ "embed"

// ProjectConfigTemplate is the commented template for .kbfusion.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
