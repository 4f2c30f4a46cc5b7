package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdh8316/handlecheck/internal/registry"
)

func manyPlatforms(t *testing.T, n int) *registry.Registry {
	t.Helper()
	ps := make([]registry.Platform, n)
	for i := range ps {
		ps[i] = registry.Platform{
			Name:        fmt.Sprintf("Site%02d", i),
			URLTemplate: fmt.Sprintf("https://site%02d.test/{}", i),
		}
	}
	r, err := registry.New(ps...)
	require.NoError(t, err)
	return r
}

func TestScanReturnsOneOutcomePerPlatformInRegistryOrder(t *testing.T) {
	reg := manyPlatforms(t, 17)
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		// Later sites answer sooner so completion order differs from registry order.
		var i int
		_, _ = fmt.Sscanf(req.URL.Host, "site%02d.test", &i)
		time.Sleep(time.Duration(17-i) * time.Millisecond)
		if i%2 == 0 {
			return respond(http.StatusOK, ""), nil
		}
		return respond(http.StatusNotFound, ""), nil
	}}
	p := NewProber(doer, Config{}, nil)

	var completed []string
	res := p.Scan(context.Background(), "alice", reg, Options{Concurrency: 5, Timeout: time.Second}, func(o Outcome) {
		completed = append(completed, o.Platform)
	})

	require.Len(t, res.Outcomes, reg.Len())
	assert.Equal(t, "alice", res.Username)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))

	seen := map[string]bool{}
	for i, o := range res.Outcomes {
		assert.Equal(t, reg.Names()[i], o.Platform)
		assert.False(t, seen[o.Platform], "duplicate %s", o.Platform)
		seen[o.Platform] = true

		want := Available
		if i%2 == 0 {
			want = Taken
		}
		assert.Equal(t, want, o.Verdict, o.Platform)
	}
	assert.ElementsMatch(t, reg.Names(), completed)
	assert.Len(t, res.Verdicts(), reg.Len())

	counts := res.Counts()
	assert.Equal(t, 9, counts[Taken])
	assert.Equal(t, 8, counts[Available])
}

func TestScanRespectsConcurrencyLimit(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			reg := manyPlatforms(t, 30)
			doer := &fakeDoer{
				delay: 15 * time.Millisecond,
				handle: func(*http.Request) (*http.Response, error) {
					return respond(http.StatusOK, ""), nil
				},
			}

			res := NewProber(doer, Config{}, nil).Scan(context.Background(), "bob", reg, Options{Concurrency: limit}, nil)

			require.Len(t, res.Outcomes, 30)
			assert.EqualValues(t, 30, doer.calls.Load())
			assert.LessOrEqual(t, int(doer.maxInFlight.Load()), limit)
			assert.Positive(t, doer.maxInFlight.Load())
		})
	}
}

func TestScanDefaultsToTenWorkers(t *testing.T) {
	reg := manyPlatforms(t, 25)
	doer := &fakeDoer{
		delay: 20 * time.Millisecond,
		handle: func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, ""), nil
		},
	}

	NewProber(doer, Config{}, nil).Scan(context.Background(), "carol", reg, Options{}, nil)

	assert.LessOrEqual(t, int(doer.maxInFlight.Load()), DefaultConcurrency)
}

func TestScanIsolatesFailures(t *testing.T) {
	reg := manyPlatforms(t, 4)
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasPrefix(req.URL.Host, "site00"):
			panic("classifier exploded")
		case strings.HasPrefix(req.URL.Host, "site01"):
			return nil, fmt.Errorf("dial tcp: no such host")
		case strings.HasPrefix(req.URL.Host, "site02"):
			return respond(http.StatusServiceUnavailable, ""), nil
		default:
			return respond(http.StatusOK, ""), nil
		}
	}}

	res := NewProber(doer, Config{}, nil).Scan(context.Background(), "dave", reg, Options{Concurrency: 2}, nil)

	assert.Equal(t, []Verdict{InternalFault, NetworkError, RateLimited, Taken}, []Verdict{
		res.Outcomes[0].Verdict, res.Outcomes[1].Verdict, res.Outcomes[2].Verdict, res.Outcomes[3].Verdict,
	})
}

func TestScanFinishesAfterCancellation(t *testing.T) {
	reg := manyPlatforms(t, 6)
	doer := &fakeDoer{
		delay: 10 * time.Millisecond,
		handle: func(req *http.Request) (*http.Response, error) {
			if err := req.Context().Err(); err != nil {
				return nil, err
			}
			return respond(http.StatusOK, ""), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewProber(doer, Config{}, nil).Scan(ctx, "erin", reg, Options{Concurrency: 2}, nil)

	require.Len(t, res.Outcomes, 6)
	for _, o := range res.Outcomes {
		assert.Equal(t, Taken, o.Verdict)
	}
}

func TestScanTimeoutBoundsWallClock(t *testing.T) {
	reg := manyPlatforms(t, 4)
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}

	start := time.Now()
	res := NewProber(doer, Config{}, nil).Scan(context.Background(), "frank", reg, Options{Concurrency: 4, Timeout: 50 * time.Millisecond}, nil)

	assert.Less(t, time.Since(start), time.Second)
	for _, o := range res.Outcomes {
		assert.Equal(t, Timeout, o.Verdict)
	}
}

func TestScanEmptyRegistry(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)

	res := NewProber(&fakeDoer{}, Config{}, nil).Scan(context.Background(), "gina", reg, Options{}, nil)
	assert.Empty(t, res.Outcomes)
}

func TestValidate(t *testing.T) {
	reg, err := registry.New(
		registry.Platform{Name: "Good", URLTemplate: "https://good.test/{}", ClaimedUsername: "real", UnclaimedUsername: "ghost"},
		registry.Platform{Name: "Inverted", URLTemplate: "https://inverted.test/{}", ClaimedUsername: "real", UnclaimedUsername: "ghost"},
		registry.Platform{Name: "Unpaired", URLTemplate: "https://unpaired.test/{}"},
	)
	require.NoError(t, err)

	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		claimed := req.URL.Path == "/real"
		if req.URL.Host == "inverted.test" {
			claimed = !claimed
		}
		if claimed {
			return respond(http.StatusOK, ""), nil
		}
		return respond(http.StatusNotFound, ""), nil
	}}

	var failures []ValidationFailure
	n := NewProber(doer, Config{}, nil).Validate(context.Background(), reg, Options{Concurrency: 1}, func(f ValidationFailure) {
		failures = append(failures, f)
	})

	assert.Equal(t, 2, n)
	require.Len(t, failures, 2)

	byName := map[string]ValidationFailure{}
	for _, f := range failures {
		byName[f.Platform] = f
	}
	assert.Equal(t, Available, byName["Inverted"].Claimed.Verdict)
	assert.Equal(t, Taken, byName["Inverted"].Unclaimed.Verdict)
	assert.Contains(t, byName["Unpaired"].Reason, "missing")
}
