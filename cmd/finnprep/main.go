// Command finnprep preprocesses satellite active-fire detections: it makes
// sure the raster tiles and region polygons covering a dataset are in the
// store, groups detections into fire events and attributes every event with
// land cover, vegetation and region values.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/finn-preprocessor/internal/adapter/http"
	"github.com/couchcryptid/finn-preprocessor/internal/config"
	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/fetch"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"github.com/couchcryptid/finn-preprocessor/internal/pipeline"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("pipeline run failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "finnprep",
		Short:         "Group active-fire detections into attributed fire events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), resolveCmd(), fetchCmd(), verifyCmd(), serveCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			slog.Error("finnprep failed", slog.Any("error", xerrors.New(err)))
		}
		stop()
		os.Exit(1)
	}
}

// setup loads configuration and wires the application.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg)
	return newApp(ctx, cfg, logger)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [FILE...]",
		Short: "Run the pipeline once for each file, or for FIRE_INPUTS",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			datasets := a.datasets()
			if len(args) > 0 {
				datasets = datasets[:0]
				for _, src := range args {
					in, err := a.cfg.Input(src)
					if err != nil {
						return err
					}
					datasets = append(datasets, pipeline.Dataset{Tag: in.Tag, Source: in.Source})
				}
			}
			if len(datasets) == 0 {
				return fmt.Errorf("no input files given and FIRE_INPUTS is empty: %w", domain.ErrConfig)
			}

			reports := pipeline.NewScheduler(a.driver, datasets, a.logger).RunOnce(cmd.Context())
			if err := printJSON(cmd, reports); err != nil {
				return err
			}
			for _, r := range reports {
				if r.Failed() {
					return errRunFailed
				}
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve TAG|FILE",
		Short: "Print the raster tiles an imported dataset needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			need, err := a.driver.Resolve(cmd.Context(), a.tagFor(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, need)
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch TAG|FILE",
		Short: "Stage the missing raster tiles of an imported dataset without importing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.driver.Fetch(cmd.Context(), a.tagFor(args[0]))
			if perr := printJSON(cmd, fetchSummary(report)); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify staged tiles and re-download corrupt ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.fetcher.VerifyAndRepair(cmd.Context())
			if perr := printJSON(cmd, fetchSummary(report)); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run FIRE_INPUTS now and on SCHEDULE, serving health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler := pipeline.NewScheduler(a.driver, a.datasets(), a.logger)
			srv := httpadapter.NewServer(a.cfg.HTTPAddr, readiness{store: a.store, scheduler: scheduler}, scheduler, a.logger)

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("http server error", "error", err)
				}
			}()

			runCtx, stopRuns := context.WithCancel(ctx)
			defer stopRuns()
			scheduler.RunInBackground(runCtx)
			startErr := scheduler.Start(runCtx, a.cfg.Schedule)
			if startErr == nil {
				<-ctx.Done()
			}
			stopRuns()
			a.logger.Info("shutting down")

			// The store is closed only after every round has returned.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()

			if err := scheduler.Stop(shutdownCtx); err != nil {
				a.logger.Error("scheduler stop error", "error", err)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}
			if startErr != nil {
				return startErr
			}
			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

// tagFor accepts either a dataset tag or an input filename.
func (a *app) tagFor(arg string) string {
	if in, err := a.cfg.Input(arg); err == nil {
		return in.Tag
	}
	return arg
}

type tileSummary struct {
	Tag       string `json:"tag"`
	Tile      string `json:"tile"`
	Status    string `json:"status"`
	Path      string `json:"path,omitempty"`
	Downloads int    `json:"downloads"`
	Error     string `json:"error,omitempty"`
}

func fetchSummary(r fetch.Report) map[string]any {
	tiles := make([]tileSummary, len(r.Results))
	for i, res := range r.Results {
		tiles[i] = tileSummary{
			Tag:       res.Tag,
			Tile:      res.Tile.String(),
			Status:    string(res.Status),
			Path:      res.Path,
			Downloads: res.Downloads,
		}
		if res.Err != nil {
			tiles[i].Error = res.Err.Error()
		}
	}
	return map[string]any{
		"tiles":     tiles,
		"downloads": r.Downloads(),
		"failed":    len(r.Failed()),
		"unmanaged": r.Unmanaged,
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
