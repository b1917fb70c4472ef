// Package hostlist parses host selections into ordered endpoint lists.
//
// Three sources are supported: plain-text host files (one or more
// whitespace-separated "[user@]host[:port]" fields per line, '#' comments),
// literal host strings given on the command line, and YAML inventories.
// Order is preserved across sources and duplicates are kept; every occurrence
// of a host runs as an independent task.
package hostlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aryankumar/fanout/internal/util"
)

// Endpoint identifies one addressable device targeted by a task.
// User and Port are empty when the source did not specify them; the
// transport applies its own defaults in that case.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port string `yaml:"port,omitempty" json:"port,omitempty"`
	User string `yaml:"user,omitempty" json:"user,omitempty"`
}

// Identity returns the display form "[user@]host[:port]".
// It names per-endpoint output files, so it must be stable for a given
// endpoint and distinct for endpoints that differ in any field.
func (e Endpoint) Identity() string {
	id := e.Host
	if e.User != "" {
		id = e.User + "@" + id
	}
	if e.Port != "" {
		id = id + ":" + e.Port
	}
	return id
}

// Addr returns the dial address "host:port", defaulting to port 22
func (e Endpoint) Addr() string {
	port := e.Port
	if port == "" {
		port = "22"
	}
	return e.Host + ":" + port
}

// Parse parses a single "[user@]host[:port]" field
func Parse(field string) (Endpoint, error) {
	var ep Endpoint

	rest := field
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		ep.User = rest[:i]
		rest = rest[i+1:]
		if ep.User == "" {
			return Endpoint{}, fmt.Errorf("%w: empty user in %q", util.ErrHostSource, field)
		}
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		ep.Port = rest[i+1:]
		rest = rest[:i]
		if _, err := strconv.Atoi(ep.Port); err != nil {
			return Endpoint{}, fmt.Errorf("%w: bad port in %q", util.ErrHostSource, field)
		}
	}

	ep.Host = rest
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host in %q", util.ErrHostSource, field)
	}

	return ep, nil
}

// ParseString parses a whitespace-separated list of host fields
func ParseString(s string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, field := range strings.Fields(s) {
		ep, err := Parse(field)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// ParseFile reads a plain-text host file. Blank lines and lines starting
// with '#' are skipped; each remaining line may hold several host fields.
func ParseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrHostSource, err)
	}
	defer f.Close()

	var endpoints []Endpoint
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eps, err := ParseString(line)
		if err != nil {
			return nil, util.WrapErrorf(err, "%s:%d", path, lineNum)
		}
		endpoints = append(endpoints, eps...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", util.ErrHostSource, path, err)
	}

	return endpoints, nil
}

// Load collects endpoints from host files and literal host strings,
// preserving source order (files first, then literals). Files with a
// .yaml or .yml extension are read as YAML inventories.
// Returns ErrNoHosts when the selection is empty.
func Load(files []string, literals []string) ([]Endpoint, error) {
	var endpoints []Endpoint

	for _, path := range files {
		var (
			eps []Endpoint
			err error
		)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			eps, err = ParseInventory(path)
		default:
			eps, err = ParseFile(path)
		}
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, eps...)
	}

	for _, lit := range literals {
		eps, err := ParseString(lit)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, eps...)
	}

	if len(endpoints) == 0 {
		return nil, util.ErrNoHosts
	}

	return endpoints, nil
}
