package cohort

import (
	"bytes"
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SampleField is the record key every table shares. Records are merged on it.
const SampleField = "sample"

// Record is one row of one source table: column name -> scalar value.
// Values are string, float64 or nil (absent) after JSON decoding.
type Record map[string]any

// Sample returns the record's merge key.
// Returns false if the record has no usable sample value.
func (r Record) Sample() (string, bool) {
	switch v := r[SampleField].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// TableBatch maps table names to their records.
// Table order is the order in which tables were added (or appeared on the
// wire), which keeps merging deterministic.
type TableBatch struct {
	tables *orderedmap.OrderedMap[string, []Record]
}

// NewTableBatch returns an empty batch.
func NewTableBatch() TableBatch {
	return TableBatch{tables: orderedmap.New[string, []Record]()}
}

func (b *TableBatch) init() {
	if b.tables == nil {
		b.tables = orderedmap.New[string, []Record]()
	}
}

// Append adds records to a table, creating the table at the end of the
// batch if it does not exist yet.
func (b *TableBatch) Append(table string, records ...Record) {
	b.init()
	existing, _ := b.tables.Get(table)
	b.tables.Set(table, append(existing, records...))
}

// Tables returns the table names in batch order.
func (b TableBatch) Tables() []string {
	if b.tables == nil {
		return nil
	}
	names := make([]string, 0, b.tables.Len())
	for pair := b.tables.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Records returns the records of one table.
func (b TableBatch) Records(table string) []Record {
	if b.tables == nil {
		return nil
	}
	records, _ := b.tables.Get(table)
	return records
}

// Each calls fn for every table in batch order.
func (b TableBatch) Each(fn func(table string, records []Record)) {
	if b.tables == nil {
		return
	}
	for pair := b.tables.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Len returns the number of tables.
func (b TableBatch) Len() int {
	if b.tables == nil {
		return 0
	}
	return b.tables.Len()
}

// RecordCount returns the number of records across all tables.
func (b TableBatch) RecordCount() int {
	n := 0
	b.Each(func(_ string, records []Record) {
		n += len(records)
	})
	return n
}

// FirstTableLen returns the record count of the first table.
// Bulk pagination measures progress with it.
func (b TableBatch) FirstTableLen() int {
	if b.tables == nil {
		return 0
	}
	if first := b.tables.Oldest(); first != nil {
		return len(first.Value)
	}
	return 0
}

// MarshalJSON encodes the batch as a JSON object in table order.
func (b TableBatch) MarshalJSON() ([]byte, error) {
	if b.tables == nil {
		return []byte("{}"), nil
	}
	return b.tables.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the order of its keys.
func (b *TableBatch) UnmarshalJSON(data []byte) error {
	b.tables = orderedmap.New[string, []Record]()
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := b.tables.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("decode table batch: %w", err)
	}
	return nil
}
