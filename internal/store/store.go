// Package store persists scan results as one JSON document per scan.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/tdh8316/handlecheck/internal/probe"
)

const (
	// TimestampLayout is the layout of the "timestamp" field.
	TimestampLayout = "2006-01-02 15:04:05"
	filePrefix      = "username_check_"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)

// Record is a saved scan read back from disk.
type Record struct {
	Username  string
	Timestamp time.Time
	// Platforms lists result keys in file order.
	Platforms []string
	Results   map[string]probe.Verdict
}

// SanitizeUsername replaces characters unsafe for file names.
func SanitizeUsername(username string) string {
	s := unsafeChars.ReplaceAllString(username, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// FileName returns the base name Save uses for username at now.
func FileName(username string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d.json", filePrefix, SanitizeUsername(username), now.Unix())
}

// Save writes result into dir and returns the path of the new file.
func Save(dir string, result *probe.ScanResult, now time.Time) (string, error) {
	if result == nil {
		return "", errors.New("nil scan result")
	}
	if dir == "" {
		dir = "."
	}

	raw, err := Encode(result, now)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create output dir %q", dir)
	}

	path := filepath.Join(dir, FileName(result.Username, now))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", errors.Wrap(err, "write results")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "write results")
	}
	return path, nil
}

// Encode renders result as an indented JSON document. Platforms keep
// registry order.
func Encode(result *probe.ScanResult, now time.Time) ([]byte, error) {
	doc := struct {
		Username  string          `json:"username"`
		Timestamp string          `json:"timestamp"`
		Results   orderedVerdicts `json:"results"`
	}{
		Username:  result.Username,
		Timestamp: now.Format(TimestampLayout),
		Results:   orderedVerdicts(result.Outcomes),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "encode results")
	}
	return buf.Bytes(), nil
}

// orderedVerdicts marshals outcomes as a JSON object in slice order.
type orderedVerdicts []probe.Outcome

func (o orderedVerdicts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, out := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(out.Platform)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(out.Verdict)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Load reads a file written by Save.
func Load(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return rec, nil
}

func Decode(raw []byte) (*Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errors.New("top level is not an object")
	}

	rec := &Record{
		Username: doc.Get("username").String(),
		Results:  map[string]probe.Verdict{},
	}
	if rec.Username == "" {
		return nil, errors.New(`missing "username"`)
	}

	if ts := doc.Get("timestamp"); ts.Exists() {
		t, err := time.ParseInLocation(TimestampLayout, ts.String(), time.Local)
		if err != nil {
			return nil, errors.Wrap(err, "timestamp")
		}
		rec.Timestamp = t
	}

	results := doc.Get("results")
	if !results.IsObject() {
		return nil, errors.New(`"results" is not an object`)
	}

	var parseErr error
	results.ForEach(func(key, value gjson.Result) bool {
		v, err := probe.ParseVerdict(value.String())
		if err != nil {
			parseErr = errors.Wrapf(err, "platform %q", key.String())
			return false
		}
		name := key.String()
		if _, dup := rec.Results[name]; !dup {
			rec.Platforms = append(rec.Platforms, name)
		}
		rec.Results[name] = v
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return rec, nil
}
