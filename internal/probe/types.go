package probe

import (
	"fmt"
	"time"
)

// Verdict is the classified outcome of one probe.
type Verdict int

const (
	// Undefined means the response matched no rule, or the platform's
	// username pattern rejected the handle and no request was sent.
	Undefined Verdict = iota
	Available
	Taken
	RateLimited
	Timeout
	NetworkError
	InternalFault
)

var verdictNames = [...]string{
	Undefined:     "undefined",
	Available:     "available",
	Taken:         "taken",
	RateLimited:   "rate_limited",
	Timeout:       "timeout",
	NetworkError:  "network_error",
	InternalFault: "internal_fault",
}

// Verdicts lists every verdict in display order.
var Verdicts = []Verdict{Available, Taken, RateLimited, Undefined, Timeout, NetworkError, InternalFault}

func (v Verdict) String() string {
	if v < 0 || int(v) >= len(verdictNames) {
		return fmt.Sprintf("verdict(%d)", int(v))
	}
	return verdictNames[v]
}

// IsError reports whether the probe failed to reach a conclusion because of
// the platform, the network, or the prober itself.
func (v Verdict) IsError() bool {
	switch v {
	case RateLimited, Timeout, NetworkError, InternalFault:
		return true
	}
	return false
}

func (v Verdict) MarshalText() ([]byte, error) {
	if v < 0 || int(v) >= len(verdictNames) {
		return nil, fmt.Errorf("invalid verdict %d", int(v))
	}
	return []byte(verdictNames[v]), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func ParseVerdict(s string) (Verdict, error) {
	for i, name := range verdictNames {
		if name == s {
			return Verdict(i), nil
		}
	}
	return Undefined, fmt.Errorf("unknown verdict %q", s)
}

// Outcome is the result of probing one platform.
type Outcome struct {
	Platform   string
	URL        string
	Verdict    Verdict
	StatusCode int
	// Detail is a short diagnostic for error verdicts. Consumers branch on
	// Verdict, never on Detail.
	Detail  string
	Elapsed time.Duration
}

// ScanResult holds one outcome per platform for a single username, in
// registry order. It is not modified after Scan returns.
type ScanResult struct {
	ID          string
	Username    string
	StartedAt   time.Time
	CompletedAt time.Time
	Outcomes    []Outcome
}

// Verdicts returns the platform -> verdict mapping.
func (r *ScanResult) Verdicts() map[string]Verdict {
	m := make(map[string]Verdict, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Platform] = o.Verdict
	}
	return m
}

func (r *ScanResult) Get(platform string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Platform == platform {
			return o, true
		}
	}
	return Outcome{}, false
}

// Counts tallies outcomes per verdict.
func (r *ScanResult) Counts() map[Verdict]int {
	counts := make(map[Verdict]int, len(verdictNames))
	for _, o := range r.Outcomes {
		counts[o.Verdict]++
	}
	return counts
}

type Config struct {
	UserAgent    string
	MaxBodyBytes int64
}

// Options are chosen per scan; nothing here lives on the Prober.
type Options struct {
	Timeout     time.Duration
	Concurrency int
}

const (
	DefaultTimeout     = 10 * time.Second
	DefaultConcurrency = 10
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// ValidationFailure describes a platform whose claimed/unclaimed pair did not
// classify as Taken/Available.
type ValidationFailure struct {
	Platform          string
	ClaimedUsername   string
	UnclaimedUsername string

	Claimed   Outcome
	Unclaimed Outcome
	Reason    string
}
