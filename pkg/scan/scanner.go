package scan

import (
	"context"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Scanner resolves groups of input files on a bounded pool of workers.
type Scanner struct {
	resolver *Resolver
	workers  int
}

// NewScanner returns a scanner running at most workers groups at once.
// A non-positive count uses one worker per CPU.
func NewScanner(resolver *Resolver, workers int) *Scanner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner{resolver: resolver, workers: workers}
}

// Run groups paths and resolves every group, sending each result as soon
// as it is ready. The channel is closed once all groups are done or ctx is
// cancelled. Cancellation is checked between groups; a group that has
// started is always finished. Callers must drain the channel or cancel ctx.
func (s *Scanner) Run(ctx context.Context, paths []string) <-chan Result {
	groups := GroupFiles(paths)
	out := make(chan Result)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i, group := range groups {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := s.resolver.ResolveGroup(group)
				res.Index = i
				select {
				case out <- res:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		if err := g.Wait(); err != nil {
			s.resolver.logger.Debug("scan stopped", "error", err)
		}
	}()

	return out
}

// Scan runs the scanner to completion and returns the results in input
// order. When ctx is cancelled the results gathered so far are returned
// with its error.
func (s *Scanner) Scan(ctx context.Context, paths []string) ([]Result, error) {
	var results []Result
	for res := range s.Run(ctx, paths) {
		results = append(results, res)
	}
	slices.SortFunc(results, func(a, b Result) int {
		return a.Index - b.Index
	})
	return results, ctx.Err()
}
