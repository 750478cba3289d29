package store

// Rows is a fully read result set, one column-keyed map per row.
type Rows struct {
	columns []string
	records []map[string]any
}

// Columns returns the column names in select order.
func (r *Rows) Columns() []string { return r.columns }

// Maps returns the rows in cursor order.
func (r *Rows) Maps() []map[string]any { return r.records }

// Len returns the number of rows.
func (r *Rows) Len() int { return len(r.records) }
