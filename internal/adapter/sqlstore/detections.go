package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// SaveDetections stores detections under dataset, replacing rows with the
// same id. Out-of-range coordinates are stored as NULL so the row survives
// for the grouping stage to reject with a reason.
func (s *Store) SaveDetections(ctx context.Context, dataset string, detections []domain.FireDetection) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO fire_detections (dataset, id, lat, lon, acquired_at, sensor, confidence, brightness, frp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (dataset, id) DO UPDATE SET
				lat = excluded.lat, lon = excluded.lon, acquired_at = excluded.acquired_at,
				sensor = excluded.sensor, confidence = excluded.confidence,
				brightness = excluded.brightness, frp = excluded.frp`))
		if err != nil {
			return dbError(err)
		}
		defer stmt.Close()

		for _, d := range detections {
			var at sql.NullTime
			if !d.AcquiredAt.IsZero() {
				at = sql.NullTime{Time: d.AcquiredAt.UTC(), Valid: true}
			}
			_, err := stmt.ExecContext(ctx, dataset, d.ID, nullFloat(d.Lat), nullFloat(d.Lon), at,
				d.Sensor, d.Confidence, d.Brightness, d.FRP)
			if err != nil {
				return fmt.Errorf("save detection %s: %w", d.ID, dbError(err))
			}
		}
		return nil
	})
}

// LoadDetections returns every detection of dataset ordered by id. NULL
// coordinates load as NaN and a NULL time as the zero time. A dataset with
// no rows is ErrNotFound.
func (s *Store) LoadDetections(ctx context.Context, dataset string) ([]domain.FireDetection, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, lat, lon, acquired_at, sensor, confidence, brightness, frp
		FROM fire_detections WHERE dataset = ? ORDER BY id`), dataset)
	if err != nil {
		return nil, fmt.Errorf("load detections %s: %w", dataset, dbError(err))
	}
	defer rows.Close()

	var out []domain.FireDetection
	for rows.Next() {
		var (
			d        domain.FireDetection
			lat, lon sql.NullFloat64
			at       sql.NullTime
		)
		if err := rows.Scan(&d.ID, &lat, &lon, &at, &d.Sensor, &d.Confidence, &d.Brightness, &d.FRP); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.Lat = floatOrNaN(lat)
		d.Lon = floatOrNaN(lon)
		if at.Valid {
			d.AcquiredAt = at.Time.UTC()
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load detections %s: %w", dataset, dbError(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dataset %s has no detections: %w", dataset, domain.ErrNotFound)
	}
	return out, nil
}

func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func floatOrNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
