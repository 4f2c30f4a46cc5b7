package probe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tdh8316/handlecheck/internal/registry"
)

type completion struct {
	index   int
	outcome Outcome
}

// Scan probes every platform in reg for username on a bounded worker pool and
// returns one outcome per platform in registry order. onOutcome, if set, is
// called from the calling goroutine in completion order.
//
// In-flight probes are bounded by opts.Timeout only: cancelling ctx does not
// abort them, so a scan that has started always completes.
func (p *Prober) Scan(
	ctx context.Context,
	username string,
	reg *registry.Registry,
	opts Options,
	onOutcome func(Outcome),
) *ScanResult {
	opts = opts.withDefaults()
	platforms := reg.Platforms()

	res := &ScanResult{
		ID:        uuid.NewString(),
		Username:  username,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(platforms)),
	}
	log := p.log.WithFields(logrus.Fields{"scan_id": res.ID, "username": username})

	workers := min(opts.Concurrency, len(platforms))
	if workers == 0 {
		res.CompletedAt = time.Now()
		return res
	}
	log.WithField("platforms", len(platforms)).WithField("workers", workers).Debug("scan started")

	probeCtx := context.WithoutCancel(ctx)

	jobs := make(chan int) // Indexes into platforms.
	results := make(chan completion, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- completion{
					index:   i,
					outcome: p.Probe(probeCtx, platforms[i], username, opts.Timeout),
				}
			}
		}()
	}

	go func() {
		defer close(results)
		wg.Wait()
	}()

	go func() {
		defer close(jobs)
		for i := range platforms {
			jobs <- i
		}
	}()

	for c := range results {
		res.Outcomes[c.index] = c.outcome

		entry := log.WithFields(logrus.Fields{
			"platform": c.outcome.Platform,
			"verdict":  c.outcome.Verdict.String(),
			"elapsed":  c.outcome.Elapsed.Round(time.Millisecond),
		})
		if c.outcome.Detail != "" {
			entry = entry.WithField("detail", c.outcome.Detail)
		}
		entry.Debug("probe finished")

		if onOutcome != nil {
			onOutcome(c.outcome)
		}
	}

	res.CompletedAt = time.Now()
	log.WithField("elapsed", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond)).Debug("scan finished")
	return res
}

// Validate probes each platform with its known claimed and unclaimed
// usernames and reports platforms that do not classify them as Taken and
// Available. It returns the number of failures.
func (p *Prober) Validate(
	ctx context.Context,
	reg *registry.Registry,
	opts Options,
	onFailure func(ValidationFailure),
) int {
	opts = opts.withDefaults()
	platforms := reg.Platforms()

	workers := min(opts.Concurrency, len(platforms))
	if workers == 0 {
		return 0
	}

	jobs := make(chan registry.Platform)
	failures := make(chan ValidationFailure, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for pl := range jobs {
				f := ValidationFailure{
					Platform:          pl.Name,
					ClaimedUsername:   pl.ClaimedUsername,
					UnclaimedUsername: pl.UnclaimedUsername,
				}
				if pl.ClaimedUsername == "" || pl.UnclaimedUsername == "" {
					f.Reason = "missing username_claimed/username_unclaimed"
					failures <- f
					continue
				}

				f.Claimed = p.Probe(ctx, pl, pl.ClaimedUsername, opts.Timeout)
				f.Unclaimed = p.Probe(ctx, pl, pl.UnclaimedUsername, opts.Timeout)

				if f.Claimed.Verdict == Taken && f.Unclaimed.Verdict == Available {
					continue
				}
				f.Reason = "unexpected verdicts"
				failures <- f
			}
		}()
	}

	go func() {
		defer close(failures)
		wg.Wait()
	}()

	go func() {
		defer close(jobs)
		for _, pl := range platforms {
			select {
			case <-ctx.Done():
				return
			case jobs <- pl:
			}
		}
	}()

	count := 0
	for f := range failures {
		count++
		if onFailure != nil {
			onFailure(f)
		}
	}
	return count
}
