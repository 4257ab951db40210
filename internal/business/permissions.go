package business

import (
	"context"
	"errors"
	"fmt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/authz/authzsql"
	"github.com/openkcm/anoncred-broker/internal/config"
)

type PermissionAction string

const (
	PermissionGrant  PermissionAction = "grant"
	PermissionRevoke PermissionAction = "revoke"
)

// PermissionChange grants or revokes one pattern of one requester.
type PermissionChange struct {
	Action    PermissionAction
	Kind      authz.Kind
	Requester string
	Pattern   string
}

type permissionStore interface {
	Grant(ctx context.Context, kind authz.Kind, requester, pattern string) error
	Revoke(ctx context.Context, kind authz.Kind, requester, pattern string) error
}

// PermissionsMain applies change to the database permission store.
func PermissionsMain(ctx context.Context, cfg *config.Config, change PermissionChange) error {
	db, err := dbPoolFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return applyPermission(ctx, authzsql.NewRepository(db), change)
}

func applyPermission(ctx context.Context, store permissionStore, change PermissionChange) error {
	switch change.Kind {
	case authz.KindVerifier, authz.KindSigner, authz.KindIssuer:
	default:
		return fmt.Errorf("unknown requester kind %q", change.Kind)
	}

	if change.Requester == "" {
		return errors.New("requester missing")
	}

	if !authz.ValidPattern(change.Kind, change.Pattern) {
		return fmt.Errorf("invalid %s pattern %q", change.Kind, change.Pattern)
	}

	var err error
	switch change.Action {
	case PermissionGrant:
		err = store.Grant(ctx, change.Kind, change.Requester, change.Pattern)
	case PermissionRevoke:
		err = store.Revoke(ctx, change.Kind, change.Requester, change.Pattern)
	default:
		return fmt.Errorf("unknown permission action %q", change.Action)
	}
	if err != nil {
		return fmt.Errorf("%s %s permission of %q: %w", change.Action, change.Kind, change.Requester, err)
	}

	slogctx.Info(ctx, "Permission changed",
		"action", change.Action,
		"kind", change.Kind,
		"requester", change.Requester,
		"pattern", change.Pattern,
	)

	return nil
}
