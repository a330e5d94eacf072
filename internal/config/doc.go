// Package config provides configuration loading and validation for the voice clone service.
// Values come from built-in defaults, an optional YAML file, a .env file and environment
// variables, in that order, and are validated section by section.
package config
