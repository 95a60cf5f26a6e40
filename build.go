package bonsai

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	reflect "github.com/goccy/go-reflect"
	"github.com/oarkflow/json"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/bonsai/utils"
)

// GenericRecord is one raw record consumed during bulk loading. The key and
// value are selected through the KeyField/ValueField options.
type GenericRecord map[string]any

// DBRequest names a database source for BuildFromDatabase.
type DBRequest struct {
	DB    *squealx.DB
	Query string
}

// Build loads records from a JSON array string, a file path, a record
// slice, or a struct slice.
func (m *Map[V]) Build(ctx context.Context, input any, callbacks ...func(GenericRecord) error) error {
	switch v := input.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			return m.BuildFromReader(ctx, strings.NewReader(v), callbacks...)
		}
		return m.BuildFromFile(ctx, v, callbacks...)
	case []GenericRecord:
		return m.BuildFromRecords(ctx, v, callbacks...)
	case []map[string]any:
		records := make([]GenericRecord, len(v))
		for i, rec := range v {
			records[i] = rec
		}
		return m.BuildFromRecords(ctx, records, callbacks...)
	default:
		return m.BuildFromStructs(ctx, input, callbacks...)
	}
}

// BuildFromReader streams a JSON array of records out of r. Invalid records
// are skipped with a warning, matching tolerant bulk ingestion.
func (m *Map[V]) BuildFromReader(ctx context.Context, r io.Reader, callbacks ...func(GenericRecord) error) error {
	start := time.Now()
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	tok, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("failed to read JSON token: %v", err)
	}
	d, ok := tok.(json.Delim)
	if !ok || d != '[' {
		return fmt.Errorf("invalid JSON array, expected '[' got %v", tok)
	}
	for decoder.More() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var rec GenericRecord
		if err := decoder.Decode(&rec); err != nil {
			log.Printf("Skipping invalid record: %v", err)
			continue
		}
		if err := m.addRecord(rec, callbacks...); err != nil {
			return err
		}
	}
	if m.monitor != nil {
		m.monitor.RecordBuildTime(time.Since(start))
	}
	return nil
}

// BuildFromFile streams records out of a JSON file.
func (m *Map[V]) BuildFromFile(ctx context.Context, path string, callbacks ...func(GenericRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return m.BuildFromReader(ctx, f, callbacks...)
}

// BuildFromDatabase loads the rows a query yields.
func (m *Map[V]) BuildFromDatabase(ctx context.Context, req DBRequest, callbacks ...func(GenericRecord) error) error {
	if req.DB == nil {
		return fmt.Errorf("no database provided")
	}
	if req.Query == "" {
		return fmt.Errorf("no query provided")
	}
	var data []map[string]any
	if err := req.DB.Select(&data, req.Query); err != nil {
		return err
	}
	return m.Build(ctx, data, callbacks...)
}

// BuildFromRecords loads an in-memory record slice.
func (m *Map[V]) BuildFromRecords(ctx context.Context, records []GenericRecord, callbacks ...func(GenericRecord) error) error {
	start := time.Now()
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.addRecord(rec, callbacks...); err != nil {
			return err
		}
	}
	if m.monitor != nil {
		m.monitor.RecordBuildTime(time.Since(start))
	}
	return nil
}

// BuildFromStructs loads a slice of structs by flattening each element into
// a record.
func (m *Map[V]) BuildFromStructs(ctx context.Context, slice any, callbacks ...func(GenericRecord) error) error {
	v := reflect.ValueOf(slice)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("not a slice")
	}
	records := make([]GenericRecord, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		b, err := json.Marshal(v.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("error marshalling element %d: %v", i, err)
		}
		var rec GenericRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("error unmarshalling element %d: %v", i, err)
		}
		records = append(records, rec)
	}
	return m.BuildFromRecords(ctx, records, callbacks...)
}

func (m *Map[V]) addRecord(rec GenericRecord, callbacks ...func(GenericRecord) error) error {
	if m.loadFilter != nil && !m.loadFilter.Match(rec) {
		return nil
	}
	raw, ok := rec[m.keyField]
	if !ok {
		return fmt.Errorf("bonsai: record missing key field %q", m.keyField)
	}
	key := utils.ToString(raw)

	var v V
	if rawVal, ok := rec[m.valueField]; ok {
		b, err := json.Marshal(rawVal)
		if err != nil {
			return fmt.Errorf("bonsai: marshal value for key %q: %w", key, err)
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("bonsai: unmarshal value for key %q: %w", key, err)
		}
	}
	m.Set(utils.UnsafeBytes(key), v)

	for _, cb := range callbacks {
		if err := cb(rec); err != nil {
			log.Printf("callback error: %v", err)
		}
	}
	return nil
}
