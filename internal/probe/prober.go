package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tdh8316/handlecheck/internal/httpx"
	"github.com/tdh8316/handlecheck/internal/registry"
)

// maxDetailLen bounds diagnostic text carried on an Outcome.
const maxDetailLen = 120

// Prober runs probes over a shared, read-only HTTP client.
type Prober struct {
	client httpx.Doer
	cfg    Config
	log    logrus.FieldLogger
}

func NewProber(client httpx.Doer, cfg Config, log logrus.FieldLogger) *Prober {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = httpx.DefaultUserAgent
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Prober{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// Probe checks one platform for username. It always returns an Outcome;
// failures of any kind are reported through its Verdict. A username the
// platform's pattern rejects is Undefined without a request.
func (p *Prober) Probe(ctx context.Context, pl registry.Platform, username string, timeout time.Duration) (out Outcome) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	out = Outcome{
		Platform: pl.Name,
		URL:      pl.URL(username),
	}

	defer func() {
		if r := recover(); r != nil {
			out.Verdict = InternalFault
			out.Detail = truncate(fmt.Sprint(r))
		}
		out.Elapsed = time.Since(start)
	}()

	ok, err := pl.AcceptsUsername(username)
	if err != nil {
		out.Verdict = InternalFault
		out.Detail = truncate("username pattern: " + err.Error())
		return out
	}
	if !ok {
		// The platform could never register this handle; there is nothing to ask it.
		out.Verdict = Undefined
		out.Detail = "username not valid on this platform"
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := httpx.NewRequest(ctx, http.MethodGet, out.URL, nil, p.cfg.UserAgent)
	if err != nil {
		out.Verdict = InternalFault
		out.Detail = truncate(err.Error())
		return out
	}

	resp, err := p.client.Do(req)
	if err != nil {
		out.Verdict, out.Detail = transportFailure(ctx, err)
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		out.Verdict, out.Detail = transportFailure(ctx, err)
		return out
	}

	out.Verdict = Classify(pl, resp.StatusCode, body)
	if out.Verdict.IsError() || out.Verdict == Undefined {
		out.Detail = resp.Status
	}
	return out
}

// Classify maps a response to a verdict. First match wins:
// an availability marker in the body or a 404, then the platform's error
// statuses, then 200.
func Classify(pl registry.Platform, status int, body []byte) Verdict {
	if status == http.StatusNotFound || containsMarker(body, pl.AvailableMarkers) {
		return Available
	}
	if pl.IsErrorStatus(status) {
		return RateLimited
	}
	if status == http.StatusOK {
		return Taken
	}
	return Undefined
}

// containsMarker expects markers already lower-cased by the registry.
func containsMarker(body []byte, markers []string) bool {
	if len(markers) == 0 || len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range markers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

func transportFailure(ctx context.Context, err error) (Verdict, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return Timeout, "no response before the deadline"
	default:
		return NetworkError, truncate(err.Error())
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailLen {
		return s
	}
	return string(r[:maxDetailLen-3]) + "..."
}
