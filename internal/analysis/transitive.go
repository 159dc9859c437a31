package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/deps"
	"github.com/ben-ranford/depsplit/internal/specifier"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

var ErrDepthLimitReached = errors.New("transitive depth limit reached")

// DepthLimitWarning reports workspace dependencies left unanalysed when the
// round limit was hit. It is surfaced as a warning, never as a failure.
type DepthLimitWarning struct {
	Limit   int
	Pending []string
}

func (w *DepthLimitWarning) Error() string {
	return fmt.Sprintf("%s after %d rounds; not analysed: %s", ErrDepthLimitReached, w.Limit, strings.Join(w.Pending, ", "))
}

func (w *DepthLimitWarning) Unwrap() error {
	return ErrDepthLimitReached
}

type TransitiveResult struct {
	Dependencies deps.Map
	Rounds       int
	Warnings     []string
	DepthLimit   *DepthLimitWarning
}

// ResolveTransitive analyses workspace dependencies round by round until a
// round discovers nothing new or the depth limit is reached. Workspace
// packages matched by an override stay external and are not traversed.
func (a *Analyzer) ResolveTransitive(ctx context.Context, initial deps.Map, actx Context) (TransitiveResult, error) {
	result := TransitiveResult{Dependencies: initial.Clone()}
	processed := make(map[string]struct{})
	limit := actx.depthLimit()

	for round := 1; ; round++ {
		pending := pendingWorkspaceKeys(result.Dependencies, processed, actx.Overrides)
		if len(pending) == 0 {
			break
		}
		if round > limit {
			warning := &DepthLimitWarning{Limit: limit, Pending: pending}
			a.log.Warn().Int("limit", limit).Strs("pending", pending).Msg("stopped transitive workspace resolution")
			result.DepthLimit = warning
			result.Warnings = append(result.Warnings, warning.Error())
			break
		}

		found, warnings, err := a.analyzeRound(ctx, pending, actx)
		if err != nil {
			return result, err
		}
		for _, key := range pending {
			processed[key] = struct{}{}
		}
		result.Warnings = append(result.Warnings, warnings...)
		added := result.Dependencies.Merge(found)
		result.Rounds = round
		a.log.Debug().Int("round", round).Strs("analysed", pending).Strs("added", added).Msg("transitive round")
		if len(added) == 0 {
			break
		}
	}
	return result, nil
}

func pendingWorkspaceKeys(current deps.Map, processed map[string]struct{}, overrides specifier.Overrides) []string {
	pending := make([]string, 0)
	for key, rec := range current {
		if !rec.IsWorkspace {
			continue
		}
		if _, done := processed[key]; done {
			continue
		}
		if specifier.Classify(key, true, overrides).Kind.IsExternal() {
			continue
		}
		pending = append(pending, key)
	}
	sort.Strings(pending)
	return pending
}

func (a *Analyzer) analyzeRound(ctx context.Context, keys []string, actx Context) (deps.Map, []string, error) {
	results := make([]deps.Map, len(keys))
	warnings := make([]string, len(keys))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(actx.concurrency())
	for i, key := range keys {
		group.Go(func() error {
			pkg, ok := actx.Workspace.Lookup(key)
			if !ok {
				warnings[i] = fmt.Sprintf("workspace package for %s not found", key)
				return nil
			}
			path, err := workspace.EntryFor(pkg, key)
			if err != nil {
				warnings[i] = fmt.Sprintf("skipping %s: %v", key, err)
				return nil
			}
			res, err := a.AnalyzeEntry(groupCtx, bundler.Entry{Name: key, Path: path}, actx)
			if err != nil {
				return err
			}
			results[i] = res.Dependencies
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]string, 0)
	for _, warning := range warnings {
		if warning != "" {
			out = append(out, warning)
		}
	}
	return deps.MergeAll(results...), out, nil
}
