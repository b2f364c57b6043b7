package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/geo"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "List branch map points with latest and average scores",
	Long:  "One point per resolved branch with usable coordinates. --geojson writes a GeoJSON FeatureCollection and --shapefile writes a point shapefile instead of a table.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asGeoJSON, _ := cmd.Flags().GetBool("geojson")
		shapePath, _ := cmd.Flags().GetString("shapefile")
		f, err := parseFilters(cmd)
		if err != nil {
			return err
		}
		st, svc, err := openEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		points, err := svc.MapPoints(ctx, f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case shapePath != "":
			if err := geo.WriteShapefile(shapePath, points); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "wrote %d points to %s\n", len(points), shapePath)
			return err
		case asGeoJSON:
			data, err := geo.MarshalGeoJSON(points)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		case jsonOutput(cmd):
			return writeJSON(out, points)
		}
		formatPoints(out, points)
		return nil
	},
}

func init() {
	mapCmd.Flags().Bool("geojson", false, "write a GeoJSON FeatureCollection")
	mapCmd.Flags().String("shapefile", "", "write points to a .shp file instead of stdout")
	mapCmd.MarkFlagsMutuallyExclusive("geojson", "shapefile")
	addFilterFlags(mapCmd)
	rootCmd.AddCommand(mapCmd)
}

func formatPoints(out io.Writer, points []geo.Point) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tGROUP\tCLASS\tLAT\tLNG\tSUPERVISIONS\tLATEST\tLATEST_PERIOD\tAVG")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-----\t---\t---\t------------\t------\t-------------\t---")
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.5f\t%.5f\t%d\t%s\t%s\t%s\n",
			p.BranchCode, truncate(p.Name, 30), p.OperatingGroup, formatClass(p.TerritorialClass),
			p.Lat, p.Lng, p.Supervisions, formatScore(p.LatestScore), p.LatestPeriod, formatScore(p.AverageScore))
	}
	_ = w.Flush()
}
