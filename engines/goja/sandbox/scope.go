package sandbox

import (
	"maps"
	"slices"

	"github.com/dop251/goja"

	"github.com/robbyt/go-jsglobals/platform/constants"
)

// scope is the global object of a context that reuses the ambient
// environment or exposes the loader. Lookups try, in order, names assigned
// by the snippet, the seed, the runtime builtins, the ambient table and
// finally the loader.
type scope struct {
	c        *Context
	builtins *goja.Object
	seed     map[string]any
	locals   map[string]goja.Value
	ambient  bool
	loader   bool
}

func (s *scope) Get(key string) goja.Value {
	if v, ok := s.locals[key]; ok {
		return v
	}
	if v, ok := s.seed[key]; ok {
		return s.keep(key, s.c.vm.ToValue(v))
	}
	if v := s.builtins.Get(key); v != nil {
		return v
	}
	if s.ambient {
		if v, ok := s.c.globals[key]; ok {
			return s.keep(key, v)
		}
	}
	if s.loader && key == constants.Loader {
		return s.keep(key, s.c.loader)
	}
	return nil
}

// keep stores a converted value so later lookups return the same object.
func (s *scope) keep(key string, v goja.Value) goja.Value {
	s.locals[key] = v
	return v
}

func (s *scope) Set(key string, val goja.Value) bool {
	s.locals[key] = val
	return true
}

func (s *scope) Has(key string) bool {
	if _, ok := s.locals[key]; ok {
		return true
	}
	if _, ok := s.seed[key]; ok {
		return true
	}
	if s.builtins.Get(key) != nil {
		return true
	}
	if s.ambient {
		if _, ok := s.c.globals[key]; ok {
			return true
		}
	}
	return s.loader && key == constants.Loader
}

func (s *scope) Delete(key string) bool {
	delete(s.locals, key)
	return true
}

func (s *scope) Keys() []string {
	keys := slices.Collect(maps.Keys(s.locals))
	for k := range s.seed {
		if _, ok := s.locals[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
