// Package registry holds the ordered, read-only table of platforms a handle is
// checked against.
package registry

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// Slot is the placeholder for the escaped username inside a URL template.
const Slot = "{}"

// patternTimeout caps a single username pattern evaluation; regexp2 backtracks.
const patternTimeout = 100 * time.Millisecond

// DefaultErrorStatusCodes are the statuses treated as a platform refusing service.
var DefaultErrorStatusCodes = []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}

// Platform describes how to probe one site for a username.
type Platform struct {
	Name        string
	URLTemplate string

	// AvailableMarkers are matched case-insensitively against the response body.
	AvailableMarkers []string
	ErrorStatusCodes []int

	// UsernamePattern rejects handles the platform cannot register anyway.
	UsernamePattern string

	ClaimedUsername   string
	UnclaimedUsername string

	pattern *regexp2.Regexp
}

// URL returns the probe target for username.
func (p Platform) URL(username string) string {
	return strings.Replace(p.URLTemplate, Slot, url.PathEscape(username), 1)
}

// IsErrorStatus reports whether code signals a rate limit or service failure.
func (p Platform) IsErrorStatus(code int) bool {
	for _, c := range p.ErrorStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// AcceptsUsername reports whether username satisfies the platform's pattern.
// Platforms without a pattern accept everything.
func (p Platform) AcceptsUsername(username string) (bool, error) {
	if p.pattern == nil {
		return true, nil
	}
	return p.pattern.MatchString(username)
}

func (p *Platform) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.New("platform name is empty")
	}

	if n := strings.Count(p.URLTemplate, Slot); n != 1 {
		return errors.Errorf("%s: url template must contain exactly one %s, found %d", p.Name, Slot, n)
	}
	u, err := url.Parse(strings.Replace(p.URLTemplate, Slot, "probe", 1))
	if err != nil {
		return errors.Wrapf(err, "%s: invalid url template", p.Name)
	}
	if u.Scheme != "https" || u.Host == "" {
		return errors.Errorf("%s: url template must be an absolute https URL", p.Name)
	}

	markers := make([]string, 0, len(p.AvailableMarkers))
	for _, m := range p.AvailableMarkers {
		if m = strings.ToLower(m); m != "" {
			markers = append(markers, m)
		}
	}
	p.AvailableMarkers = markers

	if p.ErrorStatusCodes == nil {
		p.ErrorStatusCodes = append([]int(nil), DefaultErrorStatusCodes...)
	} else {
		p.ErrorStatusCodes = append([]int{}, p.ErrorStatusCodes...)
	}

	if p.UsernamePattern != "" {
		re, err := regexp2.Compile(p.UsernamePattern, regexp2.None)
		if err != nil {
			return errors.Wrapf(err, "%s: invalid username pattern", p.Name)
		}
		re.MatchTimeout = patternTimeout
		p.pattern = re
	}

	return nil
}

// Registry is an ordered set of platforms. It is never mutated after New.
type Registry struct {
	platforms []Platform
	index     map[string]int // lower-cased name -> position
}

// New validates platforms and returns them as a registry in the given order.
func New(platforms ...Platform) (*Registry, error) {
	r := &Registry{
		platforms: make([]Platform, 0, len(platforms)),
		index:     make(map[string]int, len(platforms)),
	}

	for _, p := range platforms {
		if err := p.normalize(); err != nil {
			return nil, err
		}
		key := strings.ToLower(p.Name)
		if _, dup := r.index[key]; dup {
			return nil, errors.Errorf("duplicate platform %q", p.Name)
		}
		r.index[key] = len(r.platforms)
		r.platforms = append(r.platforms, p)
	}

	return r, nil
}

// Platforms returns the platforms in registration order.
func (r *Registry) Platforms() []Platform {
	out := make([]Platform, len(r.platforms))
	copy(out, r.platforms)
	return out
}

func (r *Registry) Len() int {
	return len(r.platforms)
}

// Names returns platform names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.platforms))
	for i, p := range r.platforms {
		names[i] = p.Name
	}
	return names
}

// Lookup finds a platform by name, ignoring case.
func (r *Registry) Lookup(name string) (Platform, bool) {
	i, ok := r.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Platform{}, false
	}
	return r.platforms[i], true
}

// Filter returns the sub-registry of the selected names, kept in registry
// order, and the names that matched nothing.
func (r *Registry) Filter(selected []string) (*Registry, []string) {
	keep := make(map[int]bool, len(selected))
	var unknown []string

	for _, s := range selected {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if i, ok := r.index[strings.ToLower(s)]; ok {
			keep[i] = true
		} else {
			unknown = append(unknown, s)
		}
	}

	sub := &Registry{index: make(map[string]int, len(keep))}
	for i, p := range r.platforms {
		if keep[i] {
			sub.index[strings.ToLower(p.Name)] = len(sub.platforms)
			sub.platforms = append(sub.platforms, p)
		}
	}
	return sub, unknown
}
