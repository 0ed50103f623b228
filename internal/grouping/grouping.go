// Package grouping clusters active-fire detections into fire events.
//
// Detections are first split into spatially independent components. Each
// component is then walked window by window: detections of one window form
// clusters, and each cluster either extends an earlier event it touches or
// opens a new one. Components share no state and are grouped concurrently.
package grouping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"golang.org/x/sync/errgroup"
)

const day = 24 * time.Hour

// Options are the grouping thresholds. They come from configuration and are
// never inferred from the data.
type Options struct {
	// DistanceKm is the linkage distance between two detections.
	DistanceKm float64
	// Window is the temporal partition; it divides a day or is a whole
	// number of days.
	Window time.Duration
	// MaxDuration bounds LastDay - FirstDay of every event.
	MaxDuration time.Duration
	// MaxGapWindows is how many windows back an event may last have grown
	// and still be extended. 1 means consecutive windows only.
	MaxGapWindows int
	// FootprintKm is the footprint half-width per sensor.
	FootprintKm        map[string]float64
	DefaultFootprintKm float64
	Workers            int
}

// DefaultOptions returns daily windows, 1 km linkage and a four-day bound.
func DefaultOptions() Options {
	return Options{
		DistanceKm:    1,
		Window:        day,
		MaxDuration:   4 * day,
		MaxGapWindows: 1,
		FootprintKm: map[string]float64{
			"MODIS": 0.5,
			"VIIRS": 0.1875,
		},
		DefaultFootprintKm: 0.5,
		Workers:            4,
	}
}

// Validate reports option combinations that would break the duration bound.
func (o Options) Validate() error {
	switch {
	case o.DistanceKm <= 0:
		return fmt.Errorf("grouping distance must be positive: %w", domain.ErrConfig)
	case o.MaxGapWindows < 1:
		return fmt.Errorf("max gap must be at least one window: %w", domain.ErrConfig)
	case o.DefaultFootprintKm <= 0:
		return fmt.Errorf("footprint half-width must be positive: %w", domain.ErrConfig)
	}
	for sensor, km := range o.FootprintKm {
		if km <= 0 {
			return fmt.Errorf("footprint half-width for %s must be positive: %w", sensor, domain.ErrConfig)
		}
	}
	return domain.CheckWindow(o.Window, o.MaxDuration)
}

func (o Options) footprint(sensor string) float64 {
	if km, ok := o.FootprintKm[sensor]; ok {
		return km
	}
	return o.DefaultFootprintKm
}

// Result is the outcome of grouping one dataset.
type Result struct {
	Events   []domain.FireEvent
	Rejected []domain.Rejected
}

// Grouper groups detections with fixed options.
type Grouper struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New returns a Grouper after validating opts.
func New(opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Grouper, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Grouper{opts: opts, logger: logger, metrics: metrics}, nil
}

// Group turns detections into events. Invalid detections are rejected with a
// reason and do not fail the call; only cancellation does. Every valid
// detection ends up in exactly one event. Events are ordered by first day,
// then id.
func (g *Grouper) Group(ctx context.Context, detections []domain.FireDetection) (Result, error) {
	valid, rejected := validate(detections)
	for _, r := range rejected {
		g.logger.Warn("detection rejected", "detection_id", r.Detection.ID, "reason", r.Reason)
	}
	g.metrics.DetectionsRejected.Add(float64(len(rejected)))

	components := partition(valid, g.opts.DistanceKm)
	perComponent := make([][]domain.FireEvent, len(components))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i, comp := range components {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perComponent[i] = g.groupComponent(comp)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, fmt.Errorf("group detections: %w", err)
	}

	var events []domain.FireEvent
	for _, evs := range perComponent {
		events = append(events, evs...)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].FirstDay.Equal(events[j].FirstDay) {
			return events[i].FirstDay.Before(events[j].FirstDay)
		}
		return events[i].ID < events[j].ID
	})

	g.metrics.EventsGrouped.Add(float64(len(events)))
	g.logger.Info("detections grouped",
		"detections", len(valid),
		"rejected", len(rejected),
		"components", len(components),
		"events", len(events),
	)
	return Result{Events: events, Rejected: rejected}, nil
}

// validate splits detections into groupable ones and rejects. A repeated id
// is rejected after its first occurrence.
func validate(detections []domain.FireDetection) ([]domain.FireDetection, []domain.Rejected) {
	valid := make([]domain.FireDetection, 0, len(detections))
	var rejected []domain.Rejected
	seen := make(map[string]bool, len(detections))
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			rejected = append(rejected, domain.Rejected{Detection: d, Reason: err.Error()})
			continue
		}
		if seen[d.ID] {
			rejected = append(rejected, domain.Rejected{
				Detection: d,
				Reason:    fmt.Errorf("duplicate detection id %s: %w", d.ID, domain.ErrInvalidInput).Error(),
			})
			continue
		}
		seen[d.ID] = true
		valid = append(valid, d)
	}
	return valid, rejected
}
