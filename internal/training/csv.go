package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"BarOracle/internal/model"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}

// ReadCSV parses bars from CSV. The first row must name the columns; the time
// column may be called Datetime, Date, Time or Price (the multi-header layout
// written by yfinance). Rows whose time cell does not parse, such as the
// extra "Ticker" and "Datetime" header rows, are skipped, as are rows
// without a positive close. Bars are returned in
// ascending time order.
func ReadCSV(r io.Reader) ([]model.OHLCV, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "datetime", "date", "time", "timestamp", "price":
			if _, ok := idx["time"]; !ok {
				idx["time"] = i
			}
		case "open", "high", "low", "close", "volume":
			idx[name] = i
		}
	}
	for _, required := range []string{"time", "close"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("csv header %v has no %s column", header, required)
		}
	}

	field := func(rec []string, name string) float64 {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0
		}
		return v
	}

	var bars []model.OHLCV
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if idx["time"] >= len(rec) {
			continue
		}
		ts, ok := parseTime(rec[idx["time"]])
		if !ok {
			continue
		}
		bar := model.OHLCV{
			Time:   ts,
			Open:   field(rec, "open"),
			High:   field(rec, "high"),
			Low:    field(rec, "low"),
			Close:  field(rec, "close"),
			Volume: field(rec, "volume"),
		}
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// WriteCSV writes bars with a single header row readable by ReadCSV.
func WriteCSV(w io.Writer, bars []model.OHLCV) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Datetime", "Open", "High", "Low", "Close", "Volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		rec := []string{b.Time.UTC().Format(time.RFC3339), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
