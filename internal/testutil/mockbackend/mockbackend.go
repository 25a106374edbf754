// Package mockbackend provides an in-memory backend.Adapter for tests.
//
// Records live in a per-zone slice. Each operation is counted, and errors
// can be queued per operation to simulate upstream failures.
package mockbackend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sipico/netcup-api-filter/internal/backend"
)

// Operation names used by Fail and Calls.
const (
	OpList   = "list"
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpTest   = "test"
)

// Adapter is an in-memory backend.Adapter.
type Adapter struct {
	mu      sync.Mutex
	zones   map[string][]backend.Record
	nextID  int
	calls   map[string]int
	failing map[string][]error
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates an empty fake.
func New() *Adapter {
	return &Adapter{
		zones:   make(map[string][]backend.Record),
		calls:   make(map[string]int),
		failing: make(map[string][]error),
	}
}

// Seed adds records to a zone without counting a call. Records without an
// ID get one assigned.
func (a *Adapter) Seed(zone string, records ...backend.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = a.newID()
		}
		a.zones[zone] = append(a.zones[zone], r)
	}
}

// Fail queues errors returned by the next calls of op, in order.
func (a *Adapter) Fail(op string, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing[op] = append(a.failing[op], errs...)
}

// Calls returns how many times op was invoked.
func (a *Adapter) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// Records returns a copy of the zone's records.
func (a *Adapter) Records(zone string) []backend.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]backend.Record(nil), a.zones[zone]...)
}

// ListRecords implements backend.Adapter.
func (a *Adapter) ListRecords(ctx context.Context, zone string) ([]backend.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(ctx, OpList); err != nil {
		return nil, err
	}
	return append([]backend.Record{}, a.zones[zone]...), nil
}

// UpsertRecord implements backend.Adapter.
func (a *Adapter) UpsertRecord(ctx context.Context, zone string, rec backend.Record) (backend.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(ctx, OpUpsert); err != nil {
		return backend.Record{}, err
	}

	rec.Hostname = strings.TrimSuffix(strings.ToLower(rec.Hostname), ".")
	rec.Type = strings.ToUpper(rec.Type)

	records := a.zones[zone]
	for i, existing := range records {
		if existing.Hostname == rec.Hostname && existing.Type == rec.Type {
			rec.ID = existing.ID
			records[i] = rec
			return rec, nil
		}
	}
	rec.ID = a.newID()
	a.zones[zone] = append(records, rec)
	return rec, nil
}

// DeleteRecord implements backend.Adapter.
func (a *Adapter) DeleteRecord(ctx context.Context, zone, recordID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(ctx, OpDelete); err != nil {
		return err
	}

	records := a.zones[zone]
	for i, r := range records {
		if r.ID == recordID {
			a.zones[zone] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return backend.NewError(backend.CodeRejected, "mock", OpDelete, backend.ErrRecordNotFound)
}

// TestConnection implements backend.Adapter.
func (a *Adapter) TestConnection(ctx context.Context) (backend.HealthStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(ctx, OpTest); err != nil {
		return backend.HealthStatus{}, err
	}
	return backend.HealthStatus{OK: true, Message: "mock"}, nil
}

// enter counts the call and pops a queued failure. Callers hold a.mu.
func (a *Adapter) enter(ctx context.Context, op string) error {
	a.calls[op]++
	if err := ctx.Err(); err != nil {
		return backend.Classify("mock", op, err)
	}
	if queue := a.failing[op]; len(queue) > 0 {
		a.failing[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func (a *Adapter) newID() string {
	a.nextID++
	return fmt.Sprintf("rec-%d", a.nextID)
}
