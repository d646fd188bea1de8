package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/babylog/internal/prefs"
)

func newTabCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "tab [name]",
		Short:     "Show or select the navigation tab",
		Long:      "Show or select the navigation tab. Tabs: " + strings.Join(prefs.Tabs, ", "),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: prefs.Tabs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := prefs.New(prefs.NewFile(opts.prefsPath))
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				tab, err := store.SelectedTab(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, tab)
				return nil
			}

			unsubscribe := store.Subscribe(prefs.SelectedTabKey, func(raw string) {
				fmt.Fprintf(out, "Selected %s\n", strings.Trim(raw, `"`))
			})
			defer unsubscribe()
			return store.SelectTab(ctx, args[0])
		},
	}
}
