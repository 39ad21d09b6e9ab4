// Command predict runs one launch window against the live forecast and
// prints the landing prediction for each hour.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/forecast"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/logging"
	"github.com/star/driftcast/internal/weathercock"
)

func main() {
	var (
		lat       = flag.Float64("lat", 39.7392, "launch site latitude")
		lon       = flag.Float64("lon", -104.9903, "launch site longitude")
		start     = flag.Int("start", 0, "first launch hour, offset from now")
		end       = flag.Int("end", 6, "last launch hour, offset from now")
		apogee    = flag.Float64("apogee", 5000, "apogee in ft AGL")
		mainRate  = flag.Float64("main", 20, "main parachute descent rate in ft/s")
		drogue    = flag.Float64("drogue", 0, "drogue descent rate in ft/s (enables dual deployment)")
		deploy    = flag.Float64("deploy", 0, "main deployment altitude in ft AGL (dual deployment)")
		wcDisp    = flag.String("weathercock-disp", "", "weathercock displacements in ft at 0,5,10,15[,20] mph")
		wcApogee  = flag.String("weathercock-apogee", "", "weathercocked apogees in ft at 0,5,10,15[,20] mph")
		model     = flag.String("model", forecast.DefaultModel, "forecast model")
		sourceURL = flag.String("url", "", "forecast endpoint (default Open-Meteo)")
		archive   = flag.String("archive", "", "directory for archived forecast responses")
		asJSON    = flag.Bool("json", false, "print the batch as JSON")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, *logLevel)

	site, err := geo.NewPoint(*lat, *lon)
	if err != nil {
		fatal(err)
	}

	var rec descent.Recovery
	if *drogue > 0 || *deploy > 0 {
		rec, err = descent.NewDualRecovery(*mainRate, *drogue, *deploy)
	} else {
		rec, err = descent.NewRecovery(*mainRate)
	}
	if err != nil {
		fatal(err)
	}

	var wc weathercock.Model
	if *wcDisp != "" || *wcApogee != "" {
		disp, err := parseList(*wcDisp)
		if err != nil {
			fatal(fmt.Errorf("weathercock-disp: %w", err))
		}
		apogees, err := parseList(*wcApogee)
		if err != nil {
			fatal(fmt.Errorf("weathercock-apogee: %w", err))
		}
		if wc, err = weathercock.NewTable(disp, apogees); err != nil {
			fatal(err)
		}
	}

	var raw forecast.RawSource = forecast.NewFetcher(*sourceURL, 30*time.Second, logger)
	if *archive != "" {
		a, err := forecast.NewArchive(*archive, 5)
		if err != nil {
			fatal(err)
		}
		raw = forecast.NewArchiveSource(raw, a, logger)
	}
	client := forecast.NewClient(raw, nil, *model, logger)
	planner := launch.NewPlanner(client, launch.DefaultMaxWindowHours, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	batch, err := planner.Run(ctx, launch.Request{
		Site:        site,
		Window:      launch.Window{StartHour: *start, EndHour: *end},
		ApogeeFt:    *apogee,
		Recovery:    rec,
		Weathercock: wc,
		Model:       *model,
	})
	if err != nil {
		fatal(err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			fatal(err)
		}
		return
	}

	fmt.Printf("Launch site %s, apogee %.0f ft, model %s\n\n", site, *apogee, *model)
	fmt.Printf("%-5s %10s %8s %10s %10s %9s %8s\n", "HOUR", "WIND MPH", "DIR", "LAND LAT", "LAND LON", "DRIFT M", "BEARING")
	for _, r := range batch.Results {
		landing := r.Landing().Location
		fmt.Printf("%-5s %10.1f %8.0f %10.5f %10.5f %9.0f %8.0f\n",
			r.HourLabel(),
			r.GroundWindMPH(),
			r.GroundWindDirection(),
			landing.Lat(),
			landing.Lon(),
			r.DriftMeters(),
			r.DriftBearing(),
		)
	}
	for _, s := range batch.Skipped {
		fmt.Printf("%-5s skipped: %s\n", s.Hour, s.Reason)
	}
	fmt.Printf("\n%d simulated, %d skipped\n", len(batch.Results), len(batch.Skipped))
	if len(batch.Results) == 0 {
		os.Exit(2)
	}
}

func parseList(s string) ([]float64, error) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ERROR:", err)
	os.Exit(1)
}
