package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/atx-organizing/district-cli/pkg/geocode"
)

var (
	lookupCity  string
	lookupState string
	lookupZip   string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <street address>",
	Short: "Look up the council district for one address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initLookup(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Lookup.DistrictFor(ctx, geocode.AddressInput{
			Street: strings.Join(args, " "),
			City:   lookupCity,
			State:  lookupState,
			Zip:    lookupZip,
		})
		if err != nil {
			return eris.Wrap(err, "lookup")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupCity, "city", "", "city")
	lookupCmd.Flags().StringVar(&lookupState, "state", "", "state")
	lookupCmd.Flags().StringVar(&lookupZip, "zip", "", "ZIP code")
	rootCmd.AddCommand(lookupCmd)
}
