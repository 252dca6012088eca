// Package config loads the application configuration from environment
// variables and an optional .env file.
//
// Defaults are declared as struct tags on each section's Config type and
// registered in Viper by reflection, so every key is overridable through the
// environment (SERVER_PORT, DATABASE_HOST, SYNC_INLINE_THRESHOLD, ...).
package config
