package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vardalab/varda/internal/config"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [name...]",
		Short: "Print the overrides applied by the named presets (all by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = config.PresetNames()
			}
			table := make(map[string]map[string]any, len(names))
			for _, name := range names {
				overrides, err := config.PresetOverrides(name)
				if err != nil {
					return err
				}
				table[name] = overrides
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(table); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
