package reminder

import "fmt"

// Registry is the in-memory authoritative set of active reminders,
// keyed by id with insertion order preserved for listing.
//
// Registry itself is not goroutine-safe; all access goes through the
// Service mutation path, which serializes writers.
type Registry struct {
	byID  map[string]Reminder
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]Reminder{}}
}

func (r *Registry) Add(rem Reminder) error {
	if _, exists := r.byID[rem.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rem.ID)
	}
	r.byID[rem.ID] = rem
	r.order = append(r.order, rem.ID)
	return nil
}

func (r *Registry) Remove(id string) (Reminder, error) {
	rem, ok := r.byID[id]
	if !ok {
		return Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return rem, nil
}

func (r *Registry) Find(id string) (Reminder, bool) {
	rem, ok := r.byID[id]
	return rem, ok
}

// All returns reminders in insertion/creation order.
func (r *Registry) All() []Reminder {
	out := make([]Reminder, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }
