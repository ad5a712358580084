package profile

import (
	"git.home.luguber.info/inful/clashchain/internal/chain"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// LoadResult is the registry built from the chain plus the items that could
// not be loaded. Excluded items never stop the rest of the chain.
type LoadResult struct {
	Registry *chain.Registry
	Errors   []error
}

// Load builds a registry from the store's chain. Only a failure to read the
// index itself is returned as an error; excluded items are left to the caller
// to report.
func (s *Store) Load(opts chain.ScriptOptions) (*LoadResult, error) {
	items, err := s.Chain()
	if err != nil {
		return nil, err
	}
	reg, err := chain.NewRegistry()
	if err != nil {
		return nil, err
	}
	res := &LoadResult{Registry: reg}
	for _, item := range items {
		unit, err := s.unitFor(item, opts)
		if err == nil {
			err = reg.Add(unit)
		}
		if err != nil {
			loadErr := ferrors.WrapError(err, ferrors.CategoryChain, "profile excluded from chain").
				Warning().
				WithContext("uid", item.UID).
				WithContext("name", item.UnitName()).
				Build()
			res.Errors = append(res.Errors, loadErr)
		}
	}
	return res, nil
}

func (s *Store) unitFor(item Item, opts chain.ScriptOptions) (chain.Unit, error) {
	src, err := s.Read(item)
	if err != nil {
		return nil, err
	}
	switch item.Type {
	case chain.KindMerge:
		return chain.NewMerge(item.UnitName(), src)
	case chain.KindScript:
		return chain.NewScript(item.UnitName(), string(src), opts), nil
	default:
		return nil, ferrors.ChainError("unknown profile type").WithContext("type", string(item.Type)).Build()
	}
}
