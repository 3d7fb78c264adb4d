package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atx-organizing/district-cli/internal/boundary"
	"github.com/atx-organizing/district-cli/internal/store"
)

var (
	districtsShapefile string
	districtsNameField string
)

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "Manage district boundary data",
}

var districtsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load district boundaries from a shapefile",
	Long: `Reads district polygons from a shapefile and stores them, replacing any
previously loaded set. Once loaded, district lookups resolve locally without
touching the remote map service.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		nameField := districtsNameField
		if nameField == "" {
			nameField = cfg.Districts.NameField
		}

		dists, err := boundary.LoadShapefile(districtsShapefile, nameField)
		if err != nil {
			return eris.Wrap(err, "districts load")
		}

		rows := make([]store.Boundary, 0, len(dists))
		for _, d := range dists {
			geomBytes, err := boundary.Encode(d)
			if err != nil {
				return eris.Wrapf(err, "districts load: encode %s", d.Name)
			}
			rows = append(rows, store.Boundary{Name: d.Name, Geom: geomBytes})
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := st.ReplaceBoundaries(ctx, rows); err != nil {
			return eris.Wrap(err, "districts load: store boundaries")
		}

		zap.L().Info("boundaries loaded",
			zap.String("shapefile", districtsShapefile),
			zap.Int("districts", len(rows)),
		)
		return nil
	},
}

var districtsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loaded district boundaries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rows, err := st.ListBoundaries(ctx)
		if err != nil {
			return eris.Wrap(err, "districts status")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stdout, "no boundaries loaded; lookups will use the remote map service")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%d districts loaded:\n", len(rows))
		for _, row := range rows {
			fmt.Fprintf(os.Stdout, "  %s (%d bytes)\n", row.Name, len(row.Geom))
		}
		return nil
	},
}

func init() {
	districtsLoadCmd.Flags().StringVar(&districtsShapefile, "shapefile", "", "path to district boundary .shp (required)")
	districtsLoadCmd.Flags().StringVar(&districtsNameField, "name-field", "", "attribute holding the district identifier (default from config)")
	_ = districtsLoadCmd.MarkFlagRequired("shapefile")

	districtsCmd.AddCommand(districtsLoadCmd)
	districtsCmd.AddCommand(districtsStatusCmd)
	rootCmd.AddCommand(districtsCmd)
}
