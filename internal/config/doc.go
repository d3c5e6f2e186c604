// Package config provides centralized configuration management for the R0
// daemon, combining a YAML configuration file with environment-injected
// credentials. Exchange and model API keys never appear in the file itself;
// the loader resolves them through the configured environment variable names
// and refuses to start when any required credential is missing.
package config
