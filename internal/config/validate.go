package config

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Authorization.Source {
	case AuthorizationSourceConfig, AuthorizationSourceDatabase:
	default:
		return fmt.Errorf("%w: authorization source %q", ErrInvalidConfig, c.Authorization.Source)
	}

	if c.Historian.Enabled {
		switch c.Historian.Sink {
		case HistorianSinkWebhook:
			if c.Historian.URL == "" {
				return fmt.Errorf("%w: historian webhook without url", ErrInvalidConfig)
			}
		case HistorianSinkValKey:
		default:
			return fmt.Errorf("%w: historian sink %q", ErrInvalidConfig, c.Historian.Sink)
		}
	}

	if c.Flows.Verification.Disabled && c.Flows.Signature.Disabled && c.Flows.Issue.Disabled {
		return fmt.Errorf("%w: every flow is disabled", ErrInvalidConfig)
	}

	if c.CredentialEngine.URL == "" {
		return fmt.Errorf("%w: credential engine url missing", ErrInvalidConfig)
	}

	switch c.CredentialEngine.ClientAuth.Type {
	case ClientAuthInsecure, ClientAuthBearer:
	case ClientAuthMTLS:
		if c.CredentialEngine.ClientAuth.MTLS == nil {
			return fmt.Errorf("%w: credential engine mtls without certificates", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: credential engine client auth %q", ErrInvalidConfig, c.CredentialEngine.ClientAuth.Type)
	}

	return nil
}
