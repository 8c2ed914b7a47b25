package tsubame

import (
	"fmt"
)

// Pipeline drives the components in their fixed dependency order: consult the
// store, run the stage, mark it built, or substitute a prebuilt artifact when
// the recipe permits. Strictly sequential; the next stage never starts before
// the previous one reaches a terminal state.
type Pipeline struct {
	Store    ArtifactStore
	Sources  SourceProvider
	Runner   StageRunner
	Fallback FallbackProvider

	// Catalog resolves dependency versions when only a subset of components
	// is being run. Defaults to the recipes passed to RunAll.
	Catalog []Recipe

	// PrebuiltOnly routes every component through the fallback provider
	// without attempting a source build (TSUBAME_PREBUILT=1).
	PrebuiltOnly bool

	Quiet bool
}

// depSatisfied reports whether a dependency has been built, either earlier in
// this run or durably in a previous one.
func (p *Pipeline) depSatisfied(dep string, done map[string]bool, catalog map[string]Recipe) (bool, error) {
	if done[dep] {
		return true, nil
	}
	r, ok := catalog[dep]
	if !ok {
		return false, fmt.Errorf("unknown dependency %q", dep)
	}
	built, err := p.Store.IsBuilt(r.Name, r.Version)
	if err != nil {
		return false, fmt.Errorf("state store unavailable: %w", err)
	}
	return built, nil
}

// supply installs the prebuilt artifact for r and records it with fallback
// provenance.
func (p *Pipeline) supply(r Recipe, tc Toolchain) error {
	if p.Fallback == nil {
		return fmt.Errorf("no fallback provider configured for %s", r.Name)
	}
	if err := p.Fallback.Supply(r, tc); err != nil {
		return err
	}
	if err := p.Store.MarkBuilt(r.Name, r.Version, ProvenanceFallback); err != nil {
		return fmt.Errorf("state store unavailable: %w", err)
	}
	return nil
}

// RunAll executes the given recipes in order. Already-built components are
// skipped, successful builds are marked durably, and a failure in a
// non-recoverable component halts everything: nothing downstream could
// succeed without its outputs. A recoverable failure is retried through the
// fallback provider; if that also fails, the pipeline halts.
//
// Prior components' markers always stay valid on a halt, so a corrected
// re-run resumes where this one stopped.
func (p *Pipeline) RunAll(recipes []Recipe, tc Toolchain) error {
	catalogSrc := p.Catalog
	if catalogSrc == nil {
		catalogSrc = recipes
	}
	catalog := make(map[string]Recipe, len(catalogSrc))
	for _, r := range catalogSrc {
		catalog[r.Name] = r
	}

	done := make(map[string]bool, len(recipes))
	for _, r := range recipes {
		built, err := p.Store.IsBuilt(r.Name, r.Version)
		if err != nil {
			return fmt.Errorf("state store unavailable: %w", err)
		}
		if built {
			if !p.Quiet {
				prov, _ := p.Store.Provenance(r.Name, r.Version)
				arrowf("Skipping %s %s (already built, %s)\n", r.Name, r.Version, prov)
			}
			done[r.Name] = true
			continue
		}

		// A stage must never start before every dependency's marker exists.
		for _, dep := range r.DependsOn {
			ok, err := p.depSatisfied(dep, done, catalog)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s depends on %s which is not built", r.Name, dep)
			}
		}

		if p.PrebuiltOnly {
			if err := p.supply(r, tc); err != nil {
				return err
			}
			done[r.Name] = true
			continue
		}

		if p.Sources != nil {
			if _, err := p.Sources.EnsureSource(r); err != nil {
				return fmt.Errorf("failed to obtain sources for %s: %w", r.Name, err)
			}
		}

		if !p.Quiet {
			arrowf("Building %s %s for %s\n", r.Name, r.Version, tc)
		}
		serr := p.Runner.Run(r, tc)
		if serr == nil {
			if err := p.Store.MarkBuilt(r.Name, r.Version, ProvenanceSource); err != nil {
				return fmt.Errorf("state store unavailable: %w", err)
			}
			done[r.Name] = true
			continue
		}

		if !r.Recoverable {
			return fmt.Errorf("pipeline halted: %w", serr)
		}

		if !p.Quiet {
			colWarn.Printf("Source build of %s failed (%v); trying prebuilt fallback\n", r.Name, serr.Err)
		}
		if err := p.supply(r, tc); err != nil {
			return fmt.Errorf("pipeline halted: source build failed (%v) and %w", serr, err)
		}
		done[r.Name] = true
	}
	return nil
}
