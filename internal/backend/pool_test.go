package backend

import (
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

func TestPool_ReusesUntilUpdated(t *testing.T) {
	t.Parallel()

	p := NewPool(logr.Discard(), time.Second)
	svc := &storage.BackendService{
		ID:        1,
		Provider:  "registry-test",
		Settings:  map[string]string{"endpoint": "http://a"},
		UpdatedAt: time.Unix(100, 0),
	}

	a1, err := p.Adapter(svc)
	if err != nil {
		t.Fatalf("Adapter: %v", err)
	}
	if _, ok := a1.(*Retrying); !ok {
		t.Errorf("adapter is %T, want *Retrying", a1)
	}

	a2, _ := p.Adapter(svc)
	if a1 != a2 {
		t.Error("unchanged service should reuse the adapter")
	}

	updated := *svc
	updated.UpdatedAt = time.Unix(200, 0)
	a3, _ := p.Adapter(&updated)
	if a3 == a1 {
		t.Error("updated service should get a new adapter")
	}

	p.Forget(1)
	if a4, _ := p.Adapter(&updated); a4 == a3 {
		t.Error("Forget did not drop the adapter")
	}
}

func TestPool_Errors(t *testing.T) {
	t.Parallel()

	p := NewPool(logr.Discard(), time.Second)

	if _, err := p.Adapter(nil); err == nil {
		t.Error("nil service should fail")
	}
	_, err := p.Adapter(&storage.BackendService{ID: 2, Provider: "registry-test"})
	if !errors.Is(err, ErrMissingSetting) {
		t.Errorf("err = %v", err)
	}
	if _, err := p.Build("nope", nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v", err)
	}
}
