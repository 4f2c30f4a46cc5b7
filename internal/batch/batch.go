// Package batch runs scans for a list of usernames.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tdh8316/handlecheck/internal/probe"
	"github.com/tdh8316/handlecheck/internal/registry"
)

const (
	DefaultDelay   = time.Second
	DefaultWorkers = 2
)

// Policy decides how usernames are scheduled relative to each other.
// Platforms within one username are always probed concurrently.
type Policy struct {
	// Parallel scans several usernames at once instead of one after another.
	Parallel bool
	// Workers bounds concurrent usernames in parallel mode.
	Workers int
	// Delay separates consecutive usernames in sequential mode.
	Delay time.Duration
}

// Scanner is satisfied by *probe.Prober.
type Scanner interface {
	Scan(ctx context.Context, username string, reg *registry.Registry, opts probe.Options, onOutcome func(probe.Outcome)) *probe.ScanResult
}

type Coordinator struct {
	scanner Scanner
	reg     *registry.Registry
	opts    probe.Options
	policy  Policy

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(scanner Scanner, reg *registry.Registry, opts probe.Options, policy Policy) *Coordinator {
	if policy.Workers <= 0 {
		policy.Workers = DefaultWorkers
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	return &Coordinator{
		scanner: scanner,
		reg:     reg,
		opts:    opts,
		policy:  policy,
		sleep:   sleepContext,
	}
}

// Run scans every non-blank username and returns the results in input order.
// onResult, if set, is never called concurrently. When ctx is cancelled Run
// stops at the next username boundary and returns the completed results
// together with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, usernames []string, onResult func(*probe.ScanResult)) ([]*probe.ScanResult, error) {
	names := Clean(usernames)
	if c.policy.Parallel {
		return c.runParallel(ctx, names, onResult)
	}
	return c.runSequential(ctx, names, onResult)
}

func (c *Coordinator) runSequential(ctx context.Context, names []string, onResult func(*probe.ScanResult)) ([]*probe.ScanResult, error) {
	results := make([]*probe.ScanResult, 0, len(names))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if i > 0 && c.policy.Delay > 0 {
			if err := c.sleep(ctx, c.policy.Delay); err != nil {
				return results, err
			}
		}

		res := c.scanner.Scan(ctx, name, c.reg, c.opts, nil)
		results = append(results, res)
		if onResult != nil {
			onResult(res)
		}
	}

	// A cancel during the last scan still has to reach the caller.
	return results, ctx.Err()
}

func (c *Coordinator) runParallel(ctx context.Context, names []string, onResult func(*probe.ScanResult)) ([]*probe.ScanResult, error) {
	slots := make([]*probe.ScanResult, len(names))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(c.policy.Workers)

	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := c.scanner.Scan(ctx, name, c.reg, c.opts, nil)

			mu.Lock()
			defer mu.Unlock()
			slots[i] = res
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*probe.ScanResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	return results, ctx.Err()
}

// Clean trims usernames and drops blanks, keeping order.
func Clean(usernames []string) []string {
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
