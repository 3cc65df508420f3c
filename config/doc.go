// Package config loads the application configuration.
//
// Configuration comes from three layers, later ones winning: built-in
// defaults, an optional YAML file, and environment variables (a .env file is
// loaded into the environment by the CLI before ApplyEnv runs). Command-line
// flags are applied last by the CLI itself.
package config
