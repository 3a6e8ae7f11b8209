package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file|dir>...",
		Short: "Show which format each file would be parsed as",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inputs, err := collectInputs(args, "", "", "")
			if err != nil {
				return err
			}

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			p := e.pipeline(a)
			out := cmd.OutOrStdout()
			for _, in := range inputs {
				format, confidence, err := p.Detect(ctx, in)
				if err != nil {
					fmt.Fprintf(out, "%-40s %-24s %s\n", in.Filename, format, domain.ErrorCode(err))
					continue
				}
				fmt.Fprintf(out, "%-40s %-24s %.2f\n", in.Filename, format, confidence)
			}
			return nil
		},
	}
}
