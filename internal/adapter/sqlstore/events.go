package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
)

// dayLayout is the storage format of event days.
const dayLayout = time.DateOnly

// SaveEvents replaces the stored events of dataset in one transaction.
func (s *Store) SaveEvents(ctx context.Context, dataset string, events []domain.FireEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM fire_events WHERE dataset = ?"), dataset); err != nil {
			return fmt.Errorf("clear events %s: %w", dataset, dbError(err))
		}
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO fire_events (dataset, id, first_day, last_day, detections, geometry, centroid_lon, centroid_lat, sensors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return dbError(err)
		}
		defer stmt.Close()

		for _, e := range events {
			ids, err := json.Marshal(e.DetectionIDs)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
			geometry, err := encodeRing(e.Geometry)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
			_, err = stmt.ExecContext(ctx, dataset, e.ID,
				e.FirstDay.Format(dayLayout), e.LastDay.Format(dayLayout),
				string(ids), geometry, e.Centroid.Lon, e.Centroid.Lat,
				strings.Join(e.Sensors, ","))
			if err != nil {
				return fmt.Errorf("save event %s: %w", e.ID, dbError(err))
			}
		}
		return nil
	})
}

// LoadEvents returns the stored events of dataset ordered by first day and
// id. found is false when none were ever saved.
func (s *Store) LoadEvents(ctx context.Context, dataset string) ([]domain.FireEvent, bool, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, first_day, last_day, detections, geometry, centroid_lon, centroid_lat, sensors
		FROM fire_events WHERE dataset = ? ORDER BY first_day, id`), dataset)
	if err != nil {
		return nil, false, fmt.Errorf("load events %s: %w", dataset, dbError(err))
	}
	defer rows.Close()

	var out []domain.FireEvent
	for rows.Next() {
		var (
			e                      domain.FireEvent
			first, last            string
			ids, geometry, sensors string
		)
		if err := rows.Scan(&e.ID, &first, &last, &ids, &geometry, &e.Centroid.Lon, &e.Centroid.Lat, &sensors); err != nil {
			return nil, false, fmt.Errorf("scan event: %w", err)
		}
		if e.FirstDay, err = time.Parse(dayLayout, first); err != nil {
			return nil, false, fmt.Errorf("event %s first day: %w", e.ID, domain.ErrInvalidInput)
		}
		if e.LastDay, err = time.Parse(dayLayout, last); err != nil {
			return nil, false, fmt.Errorf("event %s last day: %w", e.ID, domain.ErrInvalidInput)
		}
		if err := json.Unmarshal([]byte(ids), &e.DetectionIDs); err != nil {
			return nil, false, fmt.Errorf("event %s detections: %w", e.ID, domain.ErrInvalidInput)
		}
		if e.Geometry, err = decodeRing(geometry); err != nil {
			return nil, false, fmt.Errorf("event %s: %w", e.ID, err)
		}
		if sensors != "" {
			e.Sensors = strings.Split(sensors, ",")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("load events %s: %w", dataset, dbError(err))
	}
	return out, len(out) > 0, nil
}

// Event geometry is stored as a GeoJSON Polygon; an empty ring as "".
func encodeRing(ring []domain.Point) (string, error) {
	if len(ring) == 0 {
		return "", nil
	}
	return spatial.EncodeGeoJSON(spatial.Polygon(ring))
}

func decodeRing(doc string) ([]domain.Point, error) {
	if doc == "" {
		return nil, nil
	}
	return spatial.DecodeRing(doc)
}
