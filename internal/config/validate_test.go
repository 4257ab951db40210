package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/anoncred-broker/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Authorization:    config.Authorization{Source: config.AuthorizationSourceConfig},
		Historian:        config.Historian{Sink: config.HistorianSinkWebhook},
		CredentialEngine: config.CredentialEngine{
			URL:        "http://engine:8089",
			ClientAuth: config.ClientAuth{Type: config.ClientAuthInsecure},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(*config.Config) {},
		},
		{
			name:   "database authorization",
			mutate: func(c *config.Config) { c.Authorization.Source = config.AuthorizationSourceDatabase },
		},
		{
			name:    "unknown authorization source",
			mutate:  func(c *config.Config) { c.Authorization.Source = "ldap" },
			wantErr: true,
		},
		{
			name: "webhook historian",
			mutate: func(c *config.Config) {
				c.Historian.Enabled = true
				c.Historian.URL = "https://history.example.org/events"
			},
		},
		{
			name:    "webhook historian without url",
			mutate:  func(c *config.Config) { c.Historian.Enabled = true },
			wantErr: true,
		},
		{
			name: "valkey historian",
			mutate: func(c *config.Config) {
				c.Historian.Enabled = true
				c.Historian.Sink = config.HistorianSinkValKey
			},
		},
		{
			name: "unknown historian sink",
			mutate: func(c *config.Config) {
				c.Historian.Enabled = true
				c.Historian.Sink = "kafka"
			},
			wantErr: true,
		},
		{
			name: "unknown sink of disabled historian",
			mutate: func(c *config.Config) {
				c.Historian.Sink = "kafka"
			},
		},
		{
			name: "every flow disabled",
			mutate: func(c *config.Config) {
				c.Flows.Verification.Disabled = true
				c.Flows.Signature.Disabled = true
				c.Flows.Issue.Disabled = true
			},
			wantErr: true,
		},
		{
			name:    "no engine",
			mutate:  func(c *config.Config) { c.CredentialEngine.URL = "" },
			wantErr: true,
		},
		{
			name:   "engine bearer auth",
			mutate: func(c *config.Config) { c.CredentialEngine.ClientAuth.Type = config.ClientAuthBearer },
		},
		{
			name:    "engine mtls without certificates",
			mutate:  func(c *config.Config) { c.CredentialEngine.ClientAuth.Type = config.ClientAuthMTLS },
			wantErr: true,
		},
		{
			name:    "unknown engine auth",
			mutate:  func(c *config.Config) { c.CredentialEngine.ClientAuth.Type = "kerberos" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, config.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
