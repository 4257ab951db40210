package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/anoncred-broker/internal/business"
	"github.com/openkcm/anoncred-broker/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Anonymous credential broker migrations",
		"Applies the migrations of the requester permission database.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
