package registry

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcuadros/go-version"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/tdh8316/handlecheck/internal/httpx"
)

// RequiresKey names the minimum tool version able to read a platform file.
const RequiresKey = "$requires"

// LoadFile reads a platform file. The file is a JSON object keyed by platform
// name; entries keep their order in the document. Keys starting with "$" are
// metadata and never platforms.
//
//	{
//	  "$requires": "1.1.0",
//	  "GitHub": {
//	    "url": "https://github.com/{}",
//	    "errorMsg": ["page not found"],
//	    "errorStatusCodes": [429, 503],
//	    "regexCheck": "^[a-zA-Z0-9-]+$",
//	    "username_claimed": "torvalds",
//	    "username_unclaimed": "noonewouldeverusethis7"
//	  }
//	}
func LoadFile(filename, toolVersion string) (*Registry, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	r, err := Parse(raw, toolVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", filename)
	}
	return r, nil
}

// Parse builds a registry from the contents of a platform file.
func Parse(raw []byte, toolVersion string) (*Registry, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("parse json: malformed document")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errors.New("parse json: top level must be an object")
	}

	var (
		platforms []Platform
		requires  string
		parseErr  error
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == RequiresKey {
			requires = value.String()
		}
		if strings.HasPrefix(name, "$") {
			return true
		}
		if !value.IsObject() {
			parseErr = errors.Errorf("platform %q: entry must be an object", name)
			return false
		}

		p := Platform{
			Name:              name,
			URLTemplate:       value.Get("url").String(),
			AvailableMarkers:  stringList(value.Get("errorMsg")),
			UsernamePattern:   value.Get("regexCheck").String(),
			ClaimedUsername:   value.Get("username_claimed").String(),
			UnclaimedUsername: value.Get("username_unclaimed").String(),
		}
		if codes := value.Get("errorStatusCodes"); codes.Exists() {
			p.ErrorStatusCodes = []int{}
			for _, c := range codes.Array() {
				p.ErrorStatusCodes = append(p.ErrorStatusCodes, int(c.Int()))
			}
		}

		platforms = append(platforms, p)
		return true
	})
	if requires != "" && toolVersion != "" && version.Compare(toolVersion, requires, "<") {
		return nil, errors.Errorf("platform file requires version %s or newer (running %s)", requires, toolVersion)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if len(platforms) == 0 {
		return nil, errors.New("platform file defines no platforms")
	}

	return New(platforms...)
}

// stringList accepts either a single string or an array of strings, the two
// shapes errorMsg takes in Sherlock-style databases.
func stringList(v gjson.Result) []string {
	switch {
	case !v.Exists():
		return nil
	case v.IsArray():
		var out []string
		for _, it := range v.Array() {
			if it.Type == gjson.String {
				out = append(out, it.String())
			}
		}
		return out
	default:
		return []string{v.String()}
	}
}

// Download fetches a platform file, checks that it parses, and replaces
// destPath atomically.
func Download(ctx context.Context, client httpx.Doer, rawURL, userAgent, destPath, toolVersion string) error {
	req, err := httpx.NewRequest(ctx, http.MethodGet, rawURL, nil, userAgent)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "download platform file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a small snippet for diagnostics.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("download failed: %s (%s)", resp.Status, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errors.Wrap(err, "read platform file")
	}

	if _, err := Parse(body, toolVersion); err != nil {
		return errors.Wrap(err, "downloaded platform file is invalid")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	tmp := destPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}
