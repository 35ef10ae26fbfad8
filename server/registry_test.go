package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
)

func named(name string) Service {
	return NewService(name, func(grpc.ServiceRegistrar) {})
}

func names(handles []Service) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Name())
	}
	return out
}

func TestRegistryAddAndSnapshot(t *testing.T) {
	r := newRegistry()
	a := uuid.New()
	b := uuid.New()

	r.add(a, []Service{named("a1"), named("a2")})
	r.add(b, []Service{named("b1")})
	r.add(a, []Service{named("a3")})

	// Owners in registration order, handles in insertion order within each
	assert.Equal(t, []string{"a1", "a2", "a3", "b1"}, names(r.snapshot()))

	owners, services := r.counts()
	assert.Equal(t, 2, owners)
	assert.Equal(t, 4, services)
}

func TestRegistryAddEmpty(t *testing.T) {
	r := newRegistry()
	r.add(uuid.New(), nil)

	owners, services := r.counts()
	assert.Equal(t, 0, owners)
	assert.Equal(t, 0, services)
}

func TestRegistryRemove(t *testing.T) {
	r := newRegistry()
	a := uuid.New()
	b := uuid.New()
	r.add(a, []Service{named("a1"), named("a2")})
	r.add(b, []Service{named("b1")})

	assert.True(t, r.remove(a))
	assert.Equal(t, []string{"b1"}, names(r.snapshot()))

	// Unknown owner is a no-op
	assert.False(t, r.remove(a))
	assert.False(t, r.remove(uuid.New()))
}

// Registering again for an existing owner appends rather than replaces, so a
// subsystem that re-registers the same handle accumulates duplicates. This
// pins the append behavior.
func TestRegistryReregisterAppendsDuplicates(t *testing.T) {
	r := newRegistry()
	a := uuid.New()
	svc := named("dup")

	r.add(a, []Service{svc})
	r.add(a, []Service{svc})

	snap := r.snapshot()
	assert.Len(t, snap, 2)
	assert.Same(t, snap[0], snap[1])
}
