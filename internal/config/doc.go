// Package config loads asyncqueue job files (JSON or YAML) and hot-reloads
// them with fsnotify.
package config
