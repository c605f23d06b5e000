// Package config reads the gateway's entire external configuration surface:
// environment variables only, no flags (§6).
package config

import "os"

// ServerConfig is the gateway's listen configuration.
type ServerConfig struct {
	Port int
	Host string
}

// Load reads PORT (default 3000) and HOST or HOSTNAME (default "localhost")
// from the environment.
func Load() ServerConfig {
	return ServerConfig{
		Port: envInt("PORT", 3000),
		Host: envFirst([]string{"HOST", "HOSTNAME"}, "localhost"),
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func envFirst(names []string, fallback string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return fallback
}
