package chain

import (
	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Registry is the ordered list of user units for one run. The built-ins are not
// stored here; Effective wraps the user units with them.
type Registry struct {
	units []Unit
	names map[string]struct{}
}

// NewRegistry builds a registry from units in order.
func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{}, len(units))}
	for _, u := range units {
		if err := r.Add(u); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends u. Duplicate and reserved names are rejected.
func (r *Registry) Add(u Unit) error {
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	name := u.Name()
	if name == "" {
		return ferrors.ChainError("unit name is empty").WithContext("kind", string(u.Kind())).Build()
	}
	if name == DefaultsName || name == TunName {
		return ferrors.ChainError("unit name is reserved for a built-in").WithContext("unit", name).Build()
	}
	if _, dup := r.names[name]; dup {
		return ferrors.ChainError("duplicate unit name").WithContext("unit", name).Build()
	}
	r.names[name] = struct{}{}
	r.units = append(r.units, u)
	return nil
}

// Units returns the user units in order.
func (r *Registry) Units() []Unit {
	if r == nil {
		return nil
	}
	out := make([]Unit, len(r.units))
	copy(out, r.units)
	return out
}

// Len returns the number of user units.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.units)
}

// Effective returns the run order: defaults, the user units, then the tun toggle.
func (r *Registry) Effective(defaults *document.Document, flags Flags) []Unit {
	units := make([]Unit, 0, r.Len()+2)
	units = append(units, NewDefaults(defaults))
	units = append(units, r.Units()...)
	units = append(units, NewTun(flags.TunEnabled))
	return units
}
