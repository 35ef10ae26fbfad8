package server

import "github.com/google/uuid"

// defaultOwner is the bucket used by RegisterService when no owner is given
var defaultOwner = uuid.Nil

// registry is the owner-keyed table of service handles. It is not safe for
// concurrent use. All access happens under the manager's mutex.
//
// Registering again for an existing owner appends to the bucket rather than
// replacing it, so a subsystem that re-registers accumulates duplicates.
type registry struct {
	buckets map[uuid.UUID][]Service
	order   []uuid.UUID
}

func newRegistry() *registry {
	return &registry{
		buckets: make(map[uuid.UUID][]Service),
	}
}

// add appends handles to the owner's bucket, creating it if absent
func (r *registry) add(owner uuid.UUID, handles []Service) {
	if len(handles) == 0 {
		return
	}
	if _, ok := r.buckets[owner]; !ok {
		r.order = append(r.order, owner)
	}
	r.buckets[owner] = append(r.buckets[owner], handles...)
}

// remove drops the owner's entire bucket. Returns false if the owner has no
// registered services.
func (r *registry) remove(owner uuid.UUID) bool {
	if _, ok := r.buckets[owner]; !ok {
		return false
	}
	delete(r.buckets, owner)
	for i, o := range r.order {
		if o == owner {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns all registered handles in stable order: owners in
// registration order, handles in insertion order within each owner.
func (r *registry) snapshot() []Service {
	var out []Service
	for _, owner := range r.order {
		out = append(out, r.buckets[owner]...)
	}
	return out
}

// counts returns the number of owners and total registered handles
func (r *registry) counts() (owners, services int) {
	owners = len(r.buckets)
	for _, handles := range r.buckets {
		services += len(handles)
	}
	return owners, services
}
