package main

import (
	"github.com/spf13/cobra"
)

const (
	releaseVersion = "0.1.0"
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "picross",
		Short:   "Networked picross: a puzzle coordinator and its players.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
	}

	cmd.AddCommand(
		newServeCmd(&serveConfig{}),
		newPlayCmd(&playConfig{}),
		newGenerateCmd(&generateConfig{}),
		newWatchCmd(&watchConfig{}),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("picross v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
