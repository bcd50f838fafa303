// Package config provides configuration loading for the license server.
//
// Configuration is sourced from environment variables carrying the
// HASHLIC_ prefix, overlaid on an optional YAML config file. Environment
// variables always win. Paths for the signing keypair default to
// private.pem and public.pem inside the configured data directory.
package config
