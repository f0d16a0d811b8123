// Package config loads application configuration from environment variables
// into annotated structs, with per-type caching and optional .env support.
//
// Define a struct with env tags and load it once at startup:
//
//	type ServerConfig struct {
//	    Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg ServerConfig
//	config.MustLoad(&cfg)
//
// Parsing is delegated to github.com/caarlos0/env; .env files are read via
// github.com/joho/godotenv before the first parse.
package config
