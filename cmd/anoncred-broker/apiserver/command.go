package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/anoncred-broker/internal/business"
	"github.com/openkcm/anoncred-broker/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Anonymous credential broker API server",
		"Anonymous credential broker API server hosts the disclosure, signature and issuance session API.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
