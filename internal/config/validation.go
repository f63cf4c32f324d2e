package config

import (
	"fmt"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider pool validation
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: at least one provider must be configured", ErrNoProviders)
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, spec := range c.Providers {
		if spec.ID == "" {
			return fmt.Errorf("%w: providers[%d] has empty id", ErrInvalidProviderKind, i)
		}
		if _, dup := seen[spec.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateProviderID, spec.ID)
		}
		seen[spec.ID] = struct{}{}

		switch spec.Kind {
		case KindGoogleAI:
			// chat and embedder models default at adapter construction
		case KindOllama:
			if spec.ChatModel == "" {
				return fmt.Errorf("%w: provider %q (ollama) requires chat_model", ErrInvalidProviderKind, spec.ID)
			}
		default:
			return fmt.Errorf("%w: provider %q has kind %q, must be %q or %q",
				ErrInvalidProviderKind, spec.ID, spec.Kind, KindGoogleAI, KindOllama)
		}
	}

	// 2. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 3. Retrieval TTL validation
	if c.Retrieval.CacheTTLSeconds < 1 {
		return fmt.Errorf("%w: retrieval.cache_ttl_seconds must be positive, got %d",
			ErrInvalidTTL, c.Retrieval.CacheTTLSeconds)
	}

	if c.Retrieval.HealthTTLSeconds < 1 {
		return fmt.Errorf("%w: retrieval.health_ttl_seconds must be positive, got %d",
			ErrInvalidTTL, c.Retrieval.HealthTTLSeconds)
	}

	if c.Retrieval.MaxCandidates < 1 {
		return fmt.Errorf("%w: retrieval.max_candidates must be positive, got %d",
			ErrInvalidTTL, c.Retrieval.MaxCandidates)
	}

	return nil
}
