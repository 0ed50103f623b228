package grouping

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
)

// group is a growing set of detections: a cluster within one window, or an
// event across windows. seq is its creation order, which breaks ties.
type group struct {
	seq     int
	members []domain.FireDetection
	sumLon  float64
	sumLat  float64

	firstWindow int64
	lastWindow  int64
	firstDay    time.Time
}

// add appends d. Longitudes are summed unwrapped around the first member so
// a group across the antimeridian keeps a nearby centroid.
func (g *group) add(d domain.FireDetection) {
	lon := d.Lon
	if len(g.members) > 0 {
		lon = spatial.UnwrapLon(lon, g.members[0].Lon)
	}
	g.members = append(g.members, d)
	g.sumLon += lon
	g.sumLat += d.Lat
}

func (g *group) centroid() domain.Point {
	n := float64(len(g.members))
	return domain.Point{Lon: spatial.WrapLon(g.sumLon / n), Lat: g.sumLat / n}
}

// near reports whether any member lies within km of p.
func (g *group) near(p domain.Point, km float64) bool {
	for _, m := range g.members {
		if spatial.DistanceKm(m.Point(), p) <= km {
			return true
		}
	}
	return false
}

func (g *group) touches(other *group, km float64) bool {
	for _, m := range other.members {
		if g.near(m.Point(), km) {
			return true
		}
	}
	return false
}

// lastDay is the latest member day.
func (g *group) lastDay() time.Time {
	var last time.Time
	for _, m := range g.members {
		if d := domain.Day(m.AcquiredAt); d.After(last) {
			last = d
		}
	}
	return last
}

// windowOf returns the index of the window holding t, counted from the Unix
// epoch.
func windowOf(t time.Time, window time.Duration) int64 {
	d := t.Sub(time.Unix(0, 0))
	w := int64(d / window)
	if d%window < 0 {
		w--
	}
	return w
}

// groupComponent runs windowed clustering and forward chaining over one
// spatial component.
func (g *Grouper) groupComponent(detections []domain.FireDetection) []domain.FireEvent {
	sorted := append([]domain.FireDetection(nil), detections...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].AcquiredAt.Equal(sorted[j].AcquiredAt) {
			return sorted[i].AcquiredAt.Before(sorted[j].AcquiredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var events []*group
	for start := 0; start < len(sorted); {
		w := windowOf(sorted[start].AcquiredAt, g.opts.Window)
		end := start
		for end < len(sorted) && windowOf(sorted[end].AcquiredAt, g.opts.Window) == w {
			end++
		}
		clusters := g.clusterWindow(sorted[start:end])
		events = g.chain(events, clusters, w)
		start = end
	}

	out := make([]domain.FireEvent, 0, len(events))
	for _, e := range events {
		out = append(out, g.toEvent(e))
	}
	return out
}

// clusterWindow assigns each detection of one window, in (time, id) order, to
// the nearest-centroid cluster among those with a member within DistanceKm.
// Exact ties go to the earlier cluster.
func (g *Grouper) clusterWindow(detections []domain.FireDetection) []*group {
	var clusters []*group
	for _, d := range detections {
		p := d.Point()
		var best *group
		bestDist := math.Inf(1)
		for _, c := range clusters {
			if !c.near(p, g.opts.DistanceKm) {
				continue
			}
			if dist := spatial.DistanceKm(c.centroid(), p); dist < bestDist {
				best, bestDist = c, dist
			}
		}
		if best == nil {
			best = &group{seq: len(clusters)}
			clusters = append(clusters, best)
		}
		best.add(d)
	}
	return clusters
}

// chain attaches each cluster of window w to the nearest open event it
// touches, or opens a new event. An event is open when it was created before
// w, last grew no more than MaxGapWindows ago, and would not exceed
// MaxDuration by taking the cluster. Events never merge with each other.
func (g *Grouper) chain(events, clusters []*group, w int64) []*group {
	for _, c := range clusters {
		clusterLast := c.lastDay()
		centroid := c.centroid()

		var best *group
		bestDist := math.Inf(1)
		for _, e := range events {
			if e.firstWindow >= w || w-e.lastWindow > int64(g.opts.MaxGapWindows) {
				continue
			}
			if clusterLast.Sub(e.firstDay) > g.opts.MaxDuration {
				continue
			}
			if !e.touches(c, g.opts.DistanceKm) {
				continue
			}
			if dist := spatial.DistanceKm(e.centroid(), centroid); dist < bestDist {
				best, bestDist = e, dist
			}
		}

		if best == nil {
			best = &group{
				seq:         len(events),
				firstWindow: w,
				firstDay:    domain.Day(c.members[0].AcquiredAt),
			}
			events = append(events, best)
		}
		for _, m := range c.members {
			best.add(m)
		}
		best.lastWindow = w
	}
	return events
}

func (g *Grouper) toEvent(e *group) domain.FireEvent {
	ids := make([]string, len(e.members))
	points := make([]domain.Point, len(e.members))
	halfKm := make([]float64, len(e.members))
	sensors := make(map[string]bool)
	first, last := domain.Day(e.members[0].AcquiredAt), domain.Day(e.members[0].AcquiredAt)
	for i, m := range e.members {
		ids[i] = m.ID
		points[i] = m.Point()
		halfKm[i] = g.opts.footprint(m.Sensor)
		if m.Sensor != "" {
			sensors[m.Sensor] = true
		}
		d := domain.Day(m.AcquiredAt)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	sort.Strings(ids)

	sensorList := make([]string, 0, len(sensors))
	for s := range sensors {
		sensorList = append(sensorList, s)
	}
	sort.Strings(sensorList)

	return domain.FireEvent{
		ID:           domain.EventID(ids),
		DetectionIDs: ids,
		Geometry:     spatial.FootprintHull(points, halfKm),
		Centroid:     spatial.Centroid(points),
		FirstDay:     first,
		LastDay:      last,
		Sensors:      sensorList,
	}
}
