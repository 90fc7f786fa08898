// Package config loads, normalizes, and validates ferry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY. Both the CLI session and the ferryd daemon read the same
// file so they agree on the data directory, socket, and store version.
package config
