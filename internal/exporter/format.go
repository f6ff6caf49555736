package exporter

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported formats
var Formats = []string{string(FormatCSV), string(FormatXLSX)}

// ParseFormat resolves a format name; empty means CSV
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns base with the format's extension
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// Write renders t to w in format f
func Write(w io.Writer, f Format, t Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t, WriteOptions{BOMPrefix: true})
	case FormatXLSX:
		return WriteXLSX(w, t)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// FormatFloat formats a float64 value with exactly 2 decimal places
func FormatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

// FormatInt formats an integer cell
func FormatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// FormatTime formats a timestamp cell in UTC RFC 3339
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
