package exporter

// Table is a named grid of string cells
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]string
}

// Append adds a row
func (t *Table) Append(row ...string) {
	t.Rows = append(t.Rows, row)
}
