// Package storetest provides an in-memory fake of the store gateway for
// component tests. Select results are scripted per query substring; writes
// are recorded for assertions.
package storetest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Fake implements store.Store. Queries are matched against registered
// substrings in registration order; the first match wins.
type Fake struct {
	mu       sync.Mutex
	handlers []handler

	// Recorded writes
	Inserts  []Insert
	Commands []string

	// Optional injected failures
	SelectErr error
	InsertErr error
	ExecErr   error
}

type handler struct {
	substr string
	rows   any // slice of structs assigned into dest
}

// Insert records one InsertBatch call.
type Insert struct {
	Table string
	Rows  any
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{}
}

// On registers canned rows for any query containing substr. rows must be a
// slice assignable to the destination slice of the matching Select.
func (f *Fake) On(substr string, rows any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{substr: substr, rows: rows})
	return f
}

// Select implements store.Store.
func (f *Fake) Select(_ context.Context, dest any, query string, _ ...any) error {
	if f.SelectErr != nil {
		return f.SelectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, h := range f.handlers {
		if strings.Contains(query, h.substr) {
			return assign(dest, h.rows)
		}
	}
	// Unmatched queries return no rows.
	return assign(dest, nil)
}

// Exec implements store.Store.
func (f *Fake) Exec(_ context.Context, query string, _ ...any) error {
	if f.ExecErr != nil {
		return f.ExecErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, query)
	return nil
}

// InsertBatch implements store.Store.
func (f *Fake) InsertBatch(_ context.Context, table string, rows any) error {
	if f.InsertErr != nil {
		return f.InsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inserts = append(f.Inserts, Insert{Table: table, Rows: rows})
	return nil
}

// InsertedInto returns all rows recorded for table, flattened into one slice.
func (f *Fake) InsertedInto(table string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []any
	for _, ins := range f.Inserts {
		if ins.Table != table {
			continue
		}
		v := reflect.ValueOf(ins.Rows)
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.Index(i).Interface())
		}
	}
	return out
}

// assign copies rows into dest (a pointer to a slice). A nil rows yields an
// empty slice.
func assign(dest, rows any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("dest must be a pointer to a slice, got %T", dest)
	}
	slice := dv.Elem()
	if rows == nil {
		slice.Set(reflect.MakeSlice(slice.Type(), 0, 0))
		return nil
	}
	rv := reflect.ValueOf(rows)
	if !rv.Type().AssignableTo(slice.Type()) {
		return fmt.Errorf("canned rows %v not assignable to %v", rv.Type(), slice.Type())
	}
	slice.Set(rv)
	return nil
}
