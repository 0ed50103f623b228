package join

import (
	"strconv"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
)

// Fixed leading columns of every output record.
var baseColumns = []string{"event_id", "first_day", "last_day", "n_detections", "geometry"}

// Attribute is one layer-derived output column. Empty Value means null.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OutputRecord is one exported row: an event and its flattened attributes in
// column order.
type OutputRecord struct {
	EventID    string      `json:"event_id"`
	FirstDay   string      `json:"first_day"`
	LastDay    string      `json:"last_day"`
	Detections int         `json:"n_detections"`
	Geometry   string      `json:"geometry"`
	Attributes []Attribute `json:"attributes"`
}

// Row returns the record as strings in Columns order.
func (r OutputRecord) Row() []string {
	row := []string{r.EventID, r.FirstDay, r.LastDay, strconv.Itoa(r.Detections), r.Geometry}
	for _, a := range r.Attributes {
		row = append(row, a.Value)
	}
	return row
}

// Columns returns the header for records built from layers.
func Columns(layers []domain.LayerConfig) []string {
	cols := append([]string(nil), baseColumns...)
	for _, l := range layers {
		cols = append(cols, layerColumns(l)...)
	}
	return cols
}

func layerColumns(l domain.LayerConfig) []string {
	switch l.Kind {
	case domain.LayerThematic:
		return []string{"v_" + l.Variable, "f_" + l.Variable}
	case domain.LayerContinuous:
		cols := make([]string, len(l.Variables))
		for i, v := range l.Variables {
			cols[i] = "v_" + v
		}
		return cols
	case domain.LayerPolygons:
		return []string{"v_" + l.Variable}
	}
	return nil
}

// Records flattens events and their summaries into output records, in event
// order. A missing or null summary yields empty values.
func Records(events []domain.FireEvent, summaries Summaries, layers []domain.LayerConfig) []OutputRecord {
	out := make([]OutputRecord, 0, len(events))
	for _, e := range events {
		rec := OutputRecord{
			EventID:    e.ID,
			FirstDay:   e.FirstDay.Format("2006-01-02"),
			LastDay:    e.LastDay.Format("2006-01-02"),
			Detections: len(e.DetectionIDs),
			Geometry:   spatial.WKT(e.Geometry),
		}
		for _, l := range layers {
			s, ok := summaries[e.ID][l.Tag]
			if !ok || s.Null {
				s = domain.AttributeSummary{Null: true}
			}
			rec.Attributes = append(rec.Attributes, layerValues(l, s)...)
		}
		out = append(out, rec)
	}
	return out
}

func layerValues(l domain.LayerConfig, s domain.AttributeSummary) []Attribute {
	cols := layerColumns(l)
	attrs := make([]Attribute, len(cols))
	for i, c := range cols {
		attrs[i].Name = c
	}
	if s.Null {
		return attrs
	}
	switch l.Kind {
	case domain.LayerThematic:
		attrs[0].Value = s.Dominant
		attrs[1].Value = formatFloat(s.DominantFraction)
	case domain.LayerContinuous:
		for i, v := range l.Variables {
			if m, ok := s.Means[v]; ok {
				attrs[i].Value = formatFloat(m)
			}
		}
	case domain.LayerPolygons:
		attrs[0].Value = s.Region
	}
	return attrs
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
