// Package exporter writes tabular data as CSV or XLSX downloads.
//
// A Table carries a sheet name, headers and string rows. Write renders it
// in the requested Format:
//
//	table := exporter.Table{Sheet: "Mood", Headers: []string{"date", "score"}}
//	table.Rows = append(table.Rows, []string{"2025-01-02", "70"})
//	err := exporter.Write(w, exporter.FormatXLSX, table)
//
// CSV output starts with a UTF-8 BOM so spreadsheet applications detect the
// encoding.
package exporter
