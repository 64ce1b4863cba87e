package dump

import (
	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/dummy"
	"github.com/willibrandon/tbdump/pkg/registry"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// resolve turns every type reference in d back into a symbol. It runs in a
// dummy scope, so only references that are malformed fail.
func resolve(d *capture.Dump) error {
	return dummy.Do(func() error {
		cache := make(map[registry.TypeRef]registry.Symbol)
		lookup := func(ref registry.TypeRef) (registry.Symbol, error) {
			if sym, ok := cache[ref]; ok {
				return sym, nil
			}
			sym, err := registry.ResolveType(ref)
			if err != nil {
				return nil, err
			}
			cache[ref] = sym
			return sym, nil
		}

		for _, x := range d.Exceptions {
			sym, err := lookup(x.Type)
			if err != nil {
				return corrupt("unresolvable exception type "+x.Type.String(), err)
			}
			x.Class = sym
			if x.Frames == nil {
				x.Frames = []*snapshot.Frame{}
			}
		}

		var failed error
		d.Values(func(v *snapshot.Value) {
			if v.Type == nil || failed != nil {
				return
			}
			sym, err := lookup(*v.Type)
			if err != nil {
				failed = errors.Wrapf(err, "value type %s", v.Type)
				return
			}
			v.Class = sym
		})
		if failed != nil {
			return corrupt("unresolvable value type", failed)
		}
		return nil
	})
}
