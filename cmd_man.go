package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/sysmon/docs/manpage"
)

func (a *app) newManCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "man",
		Short: "Print the man page in roff format",
		Long: `Print the man page in roff format. View it with

  sysmon man | man -l -`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), manpage.Generate(cmd.Root(), version, commit, date))
		},
	}
}
