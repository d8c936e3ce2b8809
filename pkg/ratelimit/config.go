package ratelimit

import (
	"strings"
	"time"
)

// Operation categories.
const (
	CategoryLogin    = "auth_login"
	CategoryLogout   = "auth_logout"
	CategoryUpload   = "upload"
	CategoryMutation = "mutation"
	CategoryDefault  = "default"
)

// Config holds the configuration for rate limiting
type Config struct {
	Limits    map[string]RateLimit `json:"limits"`
	KeyPrefix string               `json:"keyPrefix"`
	Enabled   bool                 `json:"enabled"`
}

// DefaultConfig returns a default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Limits: map[string]RateLimit{
			CategoryLogin:    {BurstSize: 5, WindowSize: time.Minute},
			CategoryLogout:   {BurstSize: 10, WindowSize: time.Minute},
			CategoryUpload:   {BurstSize: 20, WindowSize: time.Minute},
			CategoryMutation: {BurstSize: 120, WindowSize: time.Minute},
			CategoryDefault:  {BurstSize: 600, WindowSize: time.Minute},
		},
		KeyPrefix: "ratelimit:",
		Enabled:   true,
	}
}

// Category maps the root field of an operation to its limit category.
func Category(operation string) string {
	switch {
	case operation == "connexion":
		return CategoryLogin
	case operation == "deconnexion":
		return CategoryLogout
	case operation == "televerserImage":
		return CategoryUpload
	case strings.HasPrefix(operation, "creer"),
		strings.HasPrefix(operation, "modifier"),
		strings.HasPrefix(operation, "supprimer"):
		return CategoryMutation
	}
	return CategoryDefault
}

// LimitFor returns the limit of the category of operation.
func (c *Config) LimitFor(operation string) (string, RateLimit) {
	category := Category(operation)
	if limit, ok := c.Limits[category]; ok {
		return category, limit
	}
	if limit, ok := c.Limits[CategoryDefault]; ok {
		return CategoryDefault, limit
	}
	return CategoryDefault, RateLimit{BurstSize: 60, WindowSize: time.Minute}
}
