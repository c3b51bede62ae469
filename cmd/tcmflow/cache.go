package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			if a.store == nil {
				fmt.Println("Cache is disabled.")
				return nil
			}
			fmt.Printf("Entries: %d\nDir:     %s\nTTL:     %s\n",
				a.store.Len(), a.cfg.Cache.Dir, a.cfg.Cache.TTL)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			if a.store == nil {
				fmt.Println("Cache is disabled.")
				return nil
			}
			removed := a.store.Clear(expiredOnly)
			if expiredOnly {
				fmt.Printf("Removed %d expired entries.\n", removed)
			} else {
				fmt.Printf("Removed %d entries.\n", removed)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired-only", false, "only remove expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
