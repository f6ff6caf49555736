// Package config provides centralized configuration management for the
// MindWell API. It loads configuration from multiple sources, validates it,
// and exposes a typed Config used throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. A YAML configuration file (MINDWELL_CONFIG, config.yaml or configs/config.yaml)
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// Every field has a namespaced key built from the MINDWELL prefix and its
// section, plus a short key used as a fallback:
//
//	MINDWELL_SERVER_PORT=8080   or   PORT=8080
//	MINDWELL_DB_DATABASE_URL=...  or   DATABASE_URL=postgres://...
//	MINDWELL_AUTH_JWT_SECRET=...  or   JWT_SECRET=...
//	MINDWELL_LOGGING_LOG_LEVEL=debug or LOG_LEVEL=debug
//
// When neither key is set the listener port defaults to 3001.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	addr := cfg.Server.Addr()
package config
