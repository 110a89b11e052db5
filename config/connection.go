package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ConnectionString is a parsed SQLite store location.
//
// Accepted forms:
//
//	:memory:
//	file:/var/lib/snap/snap.db?mode=rwc
//	./data/snap.db
//	Data Source=./data/snap.db;Cache=Shared
type ConnectionString struct {
	Raw      string
	Path     string
	InMemory bool
	Params   url.Values
}

var keyValueAliases = map[string]string{
	"data source": "path",
	"datasource":  "path",
	"filename":    "path",
	"cache":       "cache",
	"mode":        "mode",
}

// ParseConnectionString validates and parses a raw connection string
func ParseConnectionString(raw string) (ConnectionString, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ConnectionString{}, ErrMissingConnectionString
	}
	if strings.ContainsRune(s, 0) {
		return ConnectionString{}, fmt.Errorf("%w: contains NUL byte", ErrMalformedConnectionString)
	}

	cs := ConnectionString{Raw: raw, Params: url.Values{}}

	switch {
	case s == ":memory:":
		cs.InMemory = true
		return cs, nil

	case strings.HasPrefix(s, "file:"):
		rest := strings.TrimPrefix(s, "file:")
		path, query, _ := strings.Cut(rest, "?")
		params, err := url.ParseQuery(query)
		if err != nil {
			return ConnectionString{}, fmt.Errorf("%w: invalid query: %v", ErrMalformedConnectionString, err)
		}
		cs.Params = params
		if path == ":memory:" || params.Get("mode") == "memory" {
			cs.InMemory = true
			return cs, nil
		}
		cs.Path = strings.TrimPrefix(path, "//")

	case strings.Contains(s, "://"):
		scheme, _, _ := strings.Cut(s, "://")
		return ConnectionString{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedConnectionString, scheme)

	case strings.Contains(s, "="):
		if err := cs.parseKeyValue(s); err != nil {
			return ConnectionString{}, err
		}
		if cs.InMemory {
			return cs, nil
		}

	default:
		cs.Path = s
	}

	if cs.Path == "" {
		return ConnectionString{}, fmt.Errorf("%w: no database path", ErrMalformedConnectionString)
	}
	for _, part := range strings.Split(filepath.ToSlash(cs.Path), "/") {
		if part == ".." {
			return ConnectionString{}, fmt.Errorf("%w: path traversal in %q", ErrMalformedConnectionString, cs.Path)
		}
	}
	return cs, nil
}

func (cs *ConnectionString) parseKeyValue(s string) error {
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return fmt.Errorf("%w: segment %q is not key=value", ErrMalformedConnectionString, segment)
		}
		name, known := keyValueAliases[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			return fmt.Errorf("%w: unknown keyword %q", ErrMalformedConnectionString, strings.TrimSpace(key))
		}
		value = strings.TrimSpace(value)
		switch name {
		case "path":
			if value == ":memory:" {
				cs.InMemory = true
			}
			cs.Path = value
		default:
			cs.Params.Set(name, strings.ToLower(value))
		}
	}
	if cs.InMemory {
		cs.Path = ""
	}
	return nil
}

// Redacted returns a form safe to log. SQLite DSNs carry no credentials, so only
// the query string is dropped.
func (cs ConnectionString) Redacted() string {
	if cs.InMemory {
		return ":memory:"
	}
	return cs.Path
}
