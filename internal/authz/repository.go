package authz

import "context"

// ConfigRepository serves permissions from static configuration.
type ConfigRepository struct {
	permissions map[Kind]map[string][]string
}

var _ = Repository(&ConfigRepository{})

func NewConfigRepository(verifiers, signers, issuers map[string][]string) *ConfigRepository {
	return &ConfigRepository{
		permissions: map[Kind]map[string][]string{
			KindVerifier: verifiers,
			KindSigner:   signers,
			KindIssuer:   issuers,
		},
	}
}

func (r *ConfigRepository) Patterns(_ context.Context, kind Kind, requester string) ([]string, error) {
	return r.permissions[kind][requester], nil
}
