// Package templates holds workflow template definitions.
//
// Templates are validated when registered with a Builder and become read-only
// once the Builder produces a Registry. Built-in templates live in defaults.go (Default, Express);
// extra templates can be loaded from YAML at startup.
package templates
