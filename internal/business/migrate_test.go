package business

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/anoncred-broker/internal/config"
)

func TestMigrateMain_Errors(t *testing.T) {
	valid := config.Database{
		Host:     embedded("localhost"),
		Port:     "5432",
		Name:     "permissions",
		User:     embedded("user"),
		Password: embedded("pass"),
	}

	tests := []struct {
		name    string
		mutate  func(db *config.Database)
		wantErr string
	}{
		{
			name:    "host",
			mutate:  func(db *config.Database) { db.Host = missingFile },
			wantErr: "making connection string from config",
		},
		{
			name:    "user",
			mutate:  func(db *config.Database) { db.User = missingFile },
			wantErr: "making connection string from config",
		},
		{
			name:    "password",
			mutate:  func(db *config.Database) { db.Password = missingFile },
			wantErr: "making connection string from config",
		},
		{
			name: "unreachable",
			mutate: func(db *config.Database) {
				db.Port = "1"
				db.SSLMode = "disable"
			},
			wantErr: "applying migrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := valid
			tt.mutate(&db)

			err := MigrateMain(t.Context(), &config.Config{Database: db})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
