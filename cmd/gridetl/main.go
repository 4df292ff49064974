// Command gridetl fetches surface observations from the ASOS and Mesonet
// networks for one or more target hours, grids them and writes the
// resulting datasets.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/couchcryptid/station-grid-etl/internal/config"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "gridetl",
		Usage:     "Grid ASOS and Mesonet station observations",
		UsageText: "gridetl <command> [options]",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Fetch, grid and export observations for target hours",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "date",
						Aliases:  []string{"d"},
						Usage:    "Target date in UTC (YYYY-MM-DD)",
						EnvVars:  []string{"TARGET_DATE"},
						Required: true,
					},
					&cli.IntSliceFlag{
						Name:     "hour",
						Usage:    "Target hour in UTC (0-23); repeat for several hours",
						EnvVars:  []string{"TARGET_HOUR"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Directory for exported datasets (overrides OUTPUT_DIR)",
					},
					&cli.StringSliceFlag{
						Name:  "format",
						Usage: "Export formats: zarr, netcdf (overrides OUTPUT_FORMATS)",
					},
				},
				Action: runAction,
			},
			{
				Name:  "stations",
				Usage: "List the Mesonet station catalog",
				Action: func(cCtx *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return cli.Exit(err, 1)
					}
					cat, err := config.LoadCatalog(cfg.StationCatalog)
					if err != nil {
						return cli.Exit(err, 1)
					}

					tw := tabwriter.NewWriter(cCtx.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KEY\tSTATION\tLAT\tLON\tYEAR")
					for _, st := range cat.MesonetStations() {
						fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%d\n", st.Key, st.StationID, st.Lat, st.Lon, st.Year)
					}
					fmt.Fprintf(tw, "\n%d stations, %d page urls\n", len(cat.Mesonet.Stations), len(cat.Mesonet.URLs))
					return tw.Flush()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("gridetl failed", "error", err)
		os.Exit(1)
	}
}
