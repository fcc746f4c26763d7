// Package plugintest provides shared contract tests that verify any
// plugin.Plugin implementation behaves correctly.
package plugintest

import (
	"context"
	"testing"

	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// TestPluginContract runs behavioral contract tests against a plugin.Plugin.
// depsFn supplies the dependencies each sub-test initializes with; nodes that
// require configuration pass a config carrying the mandatory keys.
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, func() plugin.Plugin { return node.New() }, deps)
//	}
func TestPluginContract(t *testing.T, factory func() plugin.Plugin, depsFn func() plugin.Dependencies) {
	t.Helper()

	if depsFn == nil {
		depsFn = func() plugin.Dependencies { return plugin.Dependencies{Logger: zap.NewNop()} }
	}

	t.Run("Info_returns_valid_metadata", func(t *testing.T) {
		info := factory().Info()
		if info.Name == "" {
			t.Error("Info().Name must not be empty")
		}
		if info.Version == "" {
			t.Error("Info().Version must not be empty")
		}
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			t.Errorf("Info().APIVersion = %d, outside [%d, %d]", info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
		}
	})

	t.Run("Init_succeeds_with_valid_deps", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), depsFn()); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
	})

	t.Run("Start_after_Init", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), depsFn()); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		_ = p.Stop(context.Background())
	})

	t.Run("Stop_without_Start_does_not_panic", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), depsFn()); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() without Start error = %v", err)
		}
	})

	t.Run("Info_is_idempotent", func(t *testing.T) {
		p := factory()
		a, b := p.Info(), p.Info()
		if a != b {
			t.Error("Info() must return consistent results")
		}
	})
}
