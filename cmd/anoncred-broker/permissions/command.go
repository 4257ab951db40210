package permissions

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/business"
	"github.com/openkcm/anoncred-broker/internal/cmdutils"
	"github.com/openkcm/anoncred-broker/internal/config"
)

// Cmd manages the requester permissions stored in the database.
func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage requester permissions",
		Long:  "Grants and revokes the attribute and credential patterns of verifiers, signature requesters and issuers.",
	}

	cmd.AddCommand(
		changeCmd(business.PermissionGrant, "Grant a permission pattern", buildInfo),
		changeCmd(business.PermissionRevoke, "Revoke a permission pattern", buildInfo),
	)

	return cmd
}

func changeCmd(action business.PermissionAction, short, buildInfo string) *cobra.Command {
	var kind, requester, pattern string

	cmd := cmdutils.CobraCommand(
		string(action),
		short,
		"Patterns are \"*\", a full identifier, or an identifier prefix followed by \".*\".",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return business.PermissionsMain(ctx, cfg, business.PermissionChange{
				Action:    action,
				Kind:      authz.Kind(kind),
				Requester: requester,
				Pattern:   pattern,
			})
		},
	)

	cmd.Flags().StringVar(&kind, "kind", string(authz.KindVerifier), "requester kind: verifiers, sigclients or issuers")
	cmd.Flags().StringVar(&requester, "requester", "", "requester name")
	cmd.Flags().StringVar(&pattern, "pattern", "", "permission pattern")
	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}
