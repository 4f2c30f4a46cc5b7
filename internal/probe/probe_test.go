package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdh8316/handlecheck/internal/registry"
)

// fakeDoer answers requests without a network and records how many were in
// flight at once.
type fakeDoer struct {
	handle func(req *http.Request) (*http.Response, error)
	delay  time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.calls.Add(1)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.handle(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func platform(t *testing.T, p registry.Platform) registry.Platform {
	t.Helper()
	r, err := registry.New(p)
	require.NoError(t, err)
	return r.Platforms()[0]
}

func TestClassifyPrecedence(t *testing.T) {
	pl := platform(t, registry.Platform{
		Name:             "Site",
		URLTemplate:      "https://site.test/{}",
		AvailableMarkers: []string{"Page Not Found"},
	})

	cases := []struct {
		name   string
		status int
		body   string
		want   Verdict
	}{
		{"404 without marker", http.StatusNotFound, "<html>hello</html>", Available},
		{"404 with empty body", http.StatusNotFound, "", Available},
		{"200 with marker", http.StatusOK, "<h1>page NOT found</h1>", Available},
		{"429 with marker", http.StatusTooManyRequests, "page not found", Available},
		{"429", http.StatusTooManyRequests, "slow down", RateLimited},
		{"503", http.StatusServiceUnavailable, "", RateLimited},
		{"200", http.StatusOK, "<h1>profile</h1>", Taken},
		{"302", http.StatusFound, "", Undefined},
		{"500", http.StatusInternalServerError, "", Undefined},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(pl, tc.status, []byte(tc.body)))
		})
	}
}

func TestClassifyCustomErrorStatuses(t *testing.T) {
	pl := platform(t, registry.Platform{
		Name:             "Site",
		URLTemplate:      "https://site.test/{}",
		ErrorStatusCodes: []int{http.StatusForbidden},
	})

	assert.Equal(t, RateLimited, Classify(pl, http.StatusForbidden, nil))
	assert.Equal(t, Undefined, Classify(pl, http.StatusTooManyRequests, nil))
}

func newTLSPlatform(t *testing.T, handler http.HandlerFunc, markers ...string) (registry.Platform, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	return platform(t, registry.Platform{
		Name:             "Local",
		URLTemplate:      srv.URL + "/users/{}",
		AvailableMarkers: markers,
	}), srv
}

func TestProbeAgainstServer(t *testing.T) {
	pl, srv := newTLSPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "probe-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/users/taken":
			_, _ = w.Write([]byte("<h1>taken</h1>"))
		case "/users/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/users/marked":
			_, _ = w.Write([]byte("Sorry, this USER does not exist"))
		case "/users/moved":
			http.Redirect(w, r, "/users/taken", http.StatusFound)
		case "/users/teapot":
			w.WriteHeader(http.StatusTeapot)
		default:
			http.NotFound(w, r)
		}
	}, "this user does not exist")

	p := NewProber(srv.Client(), Config{UserAgent: "probe-test"}, nil)

	cases := map[string]Verdict{
		"taken":   Taken,
		"free":    Available,
		"limited": RateLimited,
		"marked":  Available,
		"moved":   Taken,
		"teapot":  Undefined,
	}
	for username, want := range cases {
		out := p.Probe(context.Background(), pl, username, time.Second)
		assert.Equalf(t, want, out.Verdict, "username %s (detail %q)", username, out.Detail)
		assert.Equal(t, "Local", out.Platform)
		assert.Equal(t, srv.URL+"/users/"+username, out.URL)
	}

	out := p.Probe(context.Background(), pl, "limited", time.Second)
	assert.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	assert.Equal(t, "429 Too Many Requests", out.Detail)
}

func TestProbeTimeout(t *testing.T) {
	pl, srv := newTLSPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	p := NewProber(srv.Client(), Config{}, nil)

	start := time.Now()
	out := p.Probe(context.Background(), pl, "slow", 100*time.Millisecond)

	assert.Equal(t, Timeout, out.Verdict)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeTimeoutWhileReadingBody(t *testing.T) {
	pl, srv := newTLSPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	p := NewProber(srv.Client(), Config{}, nil)

	out := p.Probe(context.Background(), pl, "dribble", 200*time.Millisecond)
	assert.Equal(t, Timeout, out.Verdict)
}

func TestProbeNetworkError(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	client := srv.Client()
	pl := platform(t, registry.Platform{Name: "Gone", URLTemplate: srv.URL + "/{}"})
	srv.Close()

	out := NewProber(client, Config{}, nil).Probe(context.Background(), pl, "alice", time.Second)

	assert.Equal(t, NetworkError, out.Verdict)
	assert.NotEmpty(t, out.Detail)
	assert.LessOrEqual(t, len([]rune(out.Detail)), maxDetailLen)
}

func TestProbeRejectedUsernameSkipsRequest(t *testing.T) {
	doer := &fakeDoer{handle: func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, ""), nil
	}}
	pl := platform(t, registry.Platform{
		Name:            "Strict",
		URLTemplate:     "https://strict.test/{}",
		UsernamePattern: `^[a-z]{3,8}$`,
	})
	p := NewProber(doer, Config{}, nil)

	out := p.Probe(context.Background(), pl, "NO WAY", time.Second)
	assert.Equal(t, Undefined, out.Verdict)
	assert.Equal(t, "username not valid on this platform", out.Detail)
	assert.EqualValues(t, 0, doer.calls.Load())

	out = p.Probe(context.Background(), pl, "alice", time.Second)
	assert.Equal(t, Taken, out.Verdict)
	assert.EqualValues(t, 1, doer.calls.Load())
}

func TestProbeRecoversPanics(t *testing.T) {
	doer := &fakeDoer{handle: func(*http.Request) (*http.Response, error) {
		panic(strings.Repeat("boom ", 100))
	}}
	pl := platform(t, registry.Platform{Name: "Broken", URLTemplate: "https://broken.test/{}"})

	out := NewProber(doer, Config{}, nil).Probe(context.Background(), pl, "alice", time.Second)

	assert.Equal(t, InternalFault, out.Verdict)
	assert.True(t, strings.HasPrefix(out.Detail, "boom"))
	assert.LessOrEqual(t, len([]rune(out.Detail)), maxDetailLen)
}

func TestProbeTransportDeadlineIsTimeout(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	}}
	pl := platform(t, registry.Platform{Name: "A", URLTemplate: "https://a.test/{}"})

	out := NewProber(doer, Config{}, nil).Probe(context.Background(), pl, "alice", time.Second)
	assert.Equal(t, Timeout, out.Verdict)

	doer.handle = func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	out = NewProber(doer, Config{}, nil).Probe(context.Background(), pl, "alice", time.Second)
	assert.Equal(t, NetworkError, out.Verdict)
	assert.Equal(t, "dial tcp: connection refused", out.Detail)
}

func TestVerdictText(t *testing.T) {
	for _, v := range Verdicts {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back Verdict
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back)
	}

	var v Verdict
	assert.Error(t, v.UnmarshalText([]byte("maybe")))
	_, err := Verdict(42).MarshalText()
	assert.Error(t, err)

	assert.True(t, RateLimited.IsError())
	assert.True(t, Timeout.IsError())
	assert.False(t, Taken.IsError())
	assert.False(t, Undefined.IsError())
}
