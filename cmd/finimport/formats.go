package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
	"github.com/rumor-ml/commons.systems/finimport/internal/validate"
)

func newFormatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "Manage saved custom CSV formats",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in parsers and saved custom formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			configs, err := e.configs.ListConfigs(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tUSES\tDESCRIPTION")
			for _, name := range e.registry.ListParsers() {
				fmt.Fprintf(w, "%s\t-\tbuilt-in\n", name)
			}
			for _, cfg := range configs {
				fmt.Fprintf(w, "%s\t%d\t%s\n", cfg.Key(), cfg.UseCount, cfg.Description)
			}
			return w.Flush()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <formats.yaml>",
		Short: "Check a custom formats file without saving it",
		Args:  cobra.ExactArgs(1),
		// Works without a configured backend.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := readFormats(args[0])
			if err != nil {
				return err
			}
			result := validate.ValidateConfigs(configs)
			reportValidation(result)
			if err := result.Err(); err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("%d formats valid", len(configs)))
			return nil
		},
	}

	var sample string
	save := &cobra.Command{
		Use:   "save <formats.yaml>",
		Short: "Validate and save custom formats",
		Long: `Validates every format in the file and saves them. Saving an existing name
replaces its layout but keeps its use count.

With --sample, the header row of the sample export is used to compute the
signature that later uploads are matched against.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			configs, err := readFormats(args[0])
			if err != nil {
				return err
			}

			if sample != "" {
				content, err := os.ReadFile(sample)
				if err != nil {
					return fmt.Errorf("failed to read sample: %w", err)
				}
				for _, cfg := range configs {
					if err := cfg.SignFrom(ctx, content); err != nil {
						return err
					}
				}
			}

			result := validate.ValidateConfigs(configs)
			reportValidation(result)
			if err := result.Err(); err != nil {
				return err
			}

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := e.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			for _, cfg := range configs {
				if err := e.configs.SaveConfig(ctx, cfg); err != nil {
					return fmt.Errorf("failed to save format %q: %w", cfg.Name, err)
				}
				ui.Success("Saved " + cfg.Key())
			}
			return nil
		},
	}
	save.Flags().StringVar(&sample, "sample", "", "sample export used to compute the header signature")

	cmd.AddCommand(list, validateCmd, save)
	return cmd
}

func readFormats(path string) ([]*custom.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formats file: %w", err)
	}
	return custom.LoadConfigs(data)
}

func reportValidation(result *validate.ValidationResult) {
	for _, w := range result.Warnings {
		ui.Warning(fmt.Sprintf("%s: %s: %s", w.Format, w.Field, w.Message))
	}
	for _, e := range result.Errors {
		ui.Error(e.Error())
	}
}
