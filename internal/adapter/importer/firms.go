package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/adapter/shapefile"
	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// FIRMS attribute columns, lower-cased. Shapefiles carry them upper-cased.
const (
	colLatitude   = "latitude"
	colLongitude  = "longitude"
	colAcqDate    = "acq_date"
	colAcqTime    = "acq_time"
	colInstrument = "instrument"
	colConfidence = "confidence"
	colFRP        = "frp"
)

// ReadDetections reads a FIRMS active-fire file (.csv or .shp). Rows are
// numbered in file order and each detection id is "<tag>:<row>", so
// re-importing a file reproduces its ids. Rows with unparseable fields are
// kept with NaN coordinates or a zero time for grouping to reject.
func ReadDetections(path, tag string) ([]domain.FireDetection, error) {
	var (
		rows []map[string]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".shp":
		rows, err = readShapefile(path)
	default:
		return nil, fmt.Errorf("%s: unsupported fire file type: %w", path, domain.ErrConfig)
	}
	if err != nil {
		return nil, err
	}

	sensor := sensorOf(path)
	out := make([]domain.FireDetection, 0, len(rows))
	for i, row := range rows {
		d := domain.FireDetection{
			ID:         fmt.Sprintf("%s:%d", tag, i+1),
			Lat:        parseFloat(row[colLatitude]),
			Lon:        parseFloat(row[colLongitude]),
			AcquiredAt: acquiredAt(row[colAcqDate], row[colAcqTime]),
			Sensor:     sensor,
			Confidence: row[colConfidence],
			Brightness: zeroIfNaN(parseFloat(row[brightnessColumn(sensor)])),
			FRP:        zeroIfNaN(parseFloat(row[colFRP])),
		}
		if inst := strings.ToUpper(row[colInstrument]); inst != "" {
			d.Sensor = inst
		}
		out = append(out, d)
	}
	return out, nil
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrInvalidInput)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, domain.ErrInvalidInput)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", path, domain.ErrInvalidInput, err)
		}
		row := make(map[string]string, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readShapefile(path string) ([]map[string]string, error) {
	columns := []string{"ACQ_DATE", "ACQ_TIME", "INSTRUMENT", "CONFIDENCE", "FRP", strings.ToUpper(brightnessColumn(sensorOf(path)))}
	points, err := shapefile.LoadPoints(path, columns...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, len(points))
	for i, p := range points {
		row := make(map[string]string, len(p.Fields)+2)
		for k, v := range p.Fields {
			row[strings.ToLower(k)] = v
		}
		row[colLongitude] = strconv.FormatFloat(p.Lon, 'f', -1, 64)
		row[colLatitude] = strconv.FormatFloat(p.Lat, 'f', -1, 64)
		rows[i] = row
	}
	return rows, nil
}

// sensorOf infers the instrument from a FIRMS filename.
func sensorOf(path string) string {
	name := strings.ToUpper(filepath.Base(path))
	switch {
	case strings.Contains(name, "VIIRS"), strings.Contains(name, "SV-C2"), strings.Contains(name, "J1V-C2"):
		return "VIIRS"
	default:
		return "MODIS"
	}
}

func brightnessColumn(sensor string) string {
	if sensor == "VIIRS" {
		return "bright_ti4"
	}
	return "brightness"
}

// acquiredAt combines FIRMS acq_date (YYYY-MM-DD) and acq_time (HHMM UTC,
// leading zeros often dropped).
func acquiredAt(date, hhmm string) time.Time {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}
	}
	if hhmm == "" {
		return day
	}
	n, err := strconv.Atoi(hhmm)
	if err != nil || n < 0 || n%100 > 59 || n/100 > 23 {
		return time.Time{}
	}
	return day.Add(time.Duration(n/100)*time.Hour + time.Duration(n%100)*time.Minute)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nan
	}
	return f
}
