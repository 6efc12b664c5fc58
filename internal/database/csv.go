package database

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/irfndi/celebrum-research/internal/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, common date-time layouts (read as UTC)
// and Unix epochs in seconds or milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 1e12 || n < -1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func readHeader(r *csv.Reader) ([]string, error) {
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(name)] = i
	}
	return idx
}

// ReadOHLCVCSV reads bars from CSV with a header naming timestamp (or time),
// open, high, low, close and optionally volume. Prices are parsed as decimals.
// Rows are returned in file order; the backtester validates ordering.
func ReadOHLCVCSV(r io.Reader) ([]models.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}
	idx := columnIndex(header)
	tsCol, ok := idx["timestamp"]
	if !ok {
		if tsCol, ok = idx["time"]; !ok {
			return nil, errors.New("ohlcv csv: missing timestamp column")
		}
	}
	for _, col := range []string{"open", "high", "low", "close"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("ohlcv csv: missing %s column", col)
		}
	}
	volCol, hasVolume := idx["volume"]

	var bars []models.Bar
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ohlcv csv line %d: %w", line, err)
		}
		ts, err := ParseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("ohlcv csv line %d: %w", line, err)
		}
		price := func(col string) (float64, error) {
			d, err := decimal.NewFromString(strings.TrimSpace(record[idx[col]]))
			if err != nil {
				return 0, fmt.Errorf("ohlcv csv line %d: invalid %s: %w", line, col, err)
			}
			return d.InexactFloat64(), nil
		}
		bar := models.Bar{Time: ts}
		if bar.Open, err = price("open"); err != nil {
			return nil, err
		}
		if bar.High, err = price("high"); err != nil {
			return nil, err
		}
		if bar.Low, err = price("low"); err != nil {
			return nil, err
		}
		if bar.Close, err = price("close"); err != nil {
			return nil, err
		}
		if hasVolume && strings.TrimSpace(record[volCol]) != "" {
			if bar.Volume, err = price("volume"); err != nil {
				return nil, err
			}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ReadSentimentCSV reads sentiment scores into a table. Two layouts are
// accepted: wide (timestamp,<channel>,<channel>...) with empty cells for
// missing samples, and long (timestamp,channel,score).
func ReadSentimentCSV(r io.Reader) (*models.TimeSeriesTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}
	idx := columnIndex(header)
	tsCol, ok := idx["timestamp"]
	if !ok {
		if tsCol, ok = idx["time"]; !ok {
			return nil, errors.New("sentiment csv: missing timestamp column")
		}
	}
	chCol, hasChannel := idx["channel"]
	scoreCol, hasScore := idx["score"]
	long := hasChannel && hasScore

	table := models.NewTimeSeriesTable()
	if !long {
		for i, name := range header {
			if i != tsCol {
				table.AddSeries(name, nil)
			}
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("sentiment csv line %d: %w", line, err)
		}
		if tsCol >= len(record) {
			return nil, fmt.Errorf("sentiment csv line %d: missing timestamp", line)
		}
		ts, err := ParseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("sentiment csv line %d: %w", line, err)
		}

		if long {
			if chCol >= len(record) || scoreCol >= len(record) {
				return nil, fmt.Errorf("sentiment csv line %d: short record", line)
			}
			v, err := parseScore(record[scoreCol])
			if err != nil {
				return nil, fmt.Errorf("sentiment csv line %d: %w", line, err)
			}
			table.AddPoint(strings.TrimSpace(record[chCol]), ts, v)
			continue
		}

		for i, cell := range record {
			if i == tsCol || i >= len(header) || strings.TrimSpace(cell) == "" {
				continue
			}
			v, err := parseScore(cell)
			if err != nil {
				return nil, fmt.Errorf("sentiment csv line %d, column %s: %w", line, header[i], err)
			}
			table.AddPoint(header[i], ts, v)
		}
	}
	table.Normalize()
	return table, nil
}

func parseScore(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", cell)
	}
	return v, nil
}
