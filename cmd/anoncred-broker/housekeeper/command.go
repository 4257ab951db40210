package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/anoncred-broker/internal/business"
	"github.com/openkcm/anoncred-broker/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Anonymous credential broker housekeeping job",
		"Anonymous credential broker housekeeping job trims the issuance history kept in ValKey.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
