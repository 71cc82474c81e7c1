package runtime

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// ErrFunctionNotFound reports an unknown or unpublished function id
var ErrFunctionNotFound = fmt.Errorf("function not found")

// Loader resolves function ids to compiled artifacts through the cache.
// Concurrent misses for the same key coalesce into a single compilation so
// a cold subdomain cannot trigger a compile storm.
type Loader struct {
	store store.Store
	cache *Cache
	appID string
	group singleflight.Group
}

// NewLoader creates a loader for one app
func NewLoader(st store.Store, cache *Cache, appID string) *Loader {
	return &Loader{store: st, cache: cache, appID: appID}
}

// LoadEndpoint returns the compiled artifact for a published endpoint
func (l *Loader) LoadEndpoint(ctx context.Context, functionID string) (*Artifact, error) {
	key := MakeKey(l.appID, functionID)
	if art, hit := l.cache.Get(key); hit {
		return art, nil
	}
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if art, hit := l.cache.Get(key); hit {
			return art, nil
		}
		fn, err := l.store.GetPublishedFunction(ctx, l.appID, functionID, types.FunctionEndpoint)
		if err == store.ErrNotFound {
			return nil, ErrFunctionNotFound
		}
		if err != nil {
			return nil, err
		}
		art, err := Compile(fn)
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, art)
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// LoadCommons returns the compiled artifacts of every published common
// function, keyed by function name.
func (l *Loader) LoadCommons(ctx context.Context) (map[string]*Artifact, error) {
	fns, err := l.store.ListPublishedCommonFunctions(ctx, l.appID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Artifact, len(fns))
	for _, fn := range fns {
		key := MakeKey(l.appID, fn.FunctionID, "common")
		if art, hit := l.cache.Get(key); hit {
			out[fn.FunctionName] = art
			continue
		}
		v, err, _ := l.group.Do(key, func() (interface{}, error) {
			if art, hit := l.cache.Get(key); hit {
				return art, nil
			}
			art, err := Compile(fn)
			if err != nil {
				return nil, err
			}
			l.cache.Set(key, art)
			return art, nil
		})
		if err != nil {
			return nil, fmt.Errorf("common %s: %w", fn.FunctionName, err)
		}
		out[fn.FunctionName] = v.(*Artifact)
	}
	return out, nil
}
