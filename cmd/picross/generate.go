package main

import (
	"fmt"
	"io"
	"math/rand/v2"

	"ctchen222/picross/internal/puzzle"

	"github.com/spf13/cobra"
)

func newGenerateCmd(cfg *generateConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a random puzzle configuration with its hints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runGenerate(cmd.OutOrStdout(), cfg)
		},
	}

	cfg.addFlags(cmd.Flags())
	bindEnv(cmd.Flags())
	return cmd
}

func runGenerate(w io.Writer, cfg *generateConfig) error {
	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	}

	configuration := puzzle.Random(cfg.Dimension, rng)
	fmt.Fprintln(w, configuration)
	return renderPuzzle(w, configuration)
}
