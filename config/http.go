package config

import "fmt"

// HTTPConfig configures the admin HTTP server.
type HTTPConfig struct {
	// Addr is the listen address. An empty value disables the server.
	Addr string `json:"addr"`
	// JWTSecret signs the bearer tokens accepted by the event log API.
	JWTSecret string `json:"jwt_secret"`
	// JWTIssuer, when set, must match the iss claim.
	JWTIssuer string `json:"jwt_issuer"`
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if c.Addr != "" && c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when addr is set")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 bytes")
	}
	return nil
}
