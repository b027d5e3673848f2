package core

import (
	"go/types"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestPersistentRegistryImplementationsPinned ensures concrete
// domain.PersistentRegistry implementations only appear in the sanctioned
// persistence packages. A new backend has to be added to the allowed list
// deliberately instead of slipping in elsewhere.
func TestPersistentRegistryImplementationsPinned(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "entitygraph/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var persistent *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "entitygraph/pkg/domain" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("PersistentRegistry")
		if obj == nil {
			t.Fatal("domain.PersistentRegistry not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatal("domain.PersistentRegistry is not an interface")
		}
		persistent = iface
		break
	}
	if persistent == nil {
		t.Fatal("failed to resolve PersistentRegistry interface")
	}

	allowed := map[string]struct{}{
		"entitygraph/internal/registry":                   {},
		"entitygraph/internal/infra/persistence/sqlite":   {},
		"entitygraph/internal/infra/persistence/postgres": {},
		// Test doubles for clock and audit wiring live beside the service.
		"entitygraph/internal/core": {},
	}
	unexpected := map[string]struct{}{}
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil || !strings.HasPrefix(p.PkgPath, "entitygraph") {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			obj := p.Types.Scope().Lookup(name)
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if !types.Implements(types.NewPointer(named), persistent) && !types.Implements(named, persistent) {
				continue
			}
			if _, ok := allowed[p.PkgPath]; !ok {
				unexpected[p.PkgPath+"."+name] = struct{}{}
			}
		}
	}
	if len(unexpected) > 0 {
		names := make([]string, 0, len(unexpected))
		for name := range unexpected {
			names = append(names, name)
		}
		sort.Strings(names)
		t.Fatalf("unsanctioned PersistentRegistry implementations (extend the allowed list deliberately when adding a backend):\n%s", strings.Join(names, "\n"))
	}
}
