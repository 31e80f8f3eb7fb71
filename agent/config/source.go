// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Source parses configuration from some source.
type Source interface {
	// Source returns an identifier for the Source that can be used in error
	// messages.
	Source() string
	// Parse a Config from the source. Unknown keys are reported through the
	// metadata.
	Parse() (Config, mapstructure.Metadata, error)
}

// FileSource implements Source and parses a config from a file.
type FileSource struct {
	Name   string
	Format string
	Data   string
}

func (f FileSource) Source() string {
	return f.Name
}

// Parse a config file in either JSON or HCL format.
func (f FileSource) Parse() (Config, mapstructure.Metadata, error) {
	if f.Name == "" || f.Data == "" {
		return Config{}, mapstructure.Metadata{}, ErrNoData
	}

	c, md, err := Parse(f.Data, f.Format)
	if err != nil {
		return c, md, fmt.Errorf("failed to parse %v: %w", f.Source(), err)
	}
	return c, md, nil
}

// LiteralSource implements Source and returns an existing Config struct.
type LiteralSource struct {
	Name   string
	Config Config
}

func (l LiteralSource) Source() string {
	return l.Name
}

func (l LiteralSource) Parse() (Config, mapstructure.Metadata, error) {
	return l.Config, mapstructure.Metadata{}, nil
}

// ErrNoData indicates to Builder.Build that the source contained no data, and
// it can be skipped.
var ErrNoData = fmt.Errorf("config source contained no data")

// sourcesFromPath reads the config files at path. A directory is read one
// level deep, only .hcl and .json files are considered and they are read in
// lexical order.
func sourcesFromPath(path string, format string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: Open failed on %s. %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: Stat failed on %s. %w", path, err)
	}

	if !fi.IsDir() {
		if !shouldParseFile(path, format) {
			return nil, fmt.Errorf("config: %s has unsupported format, use -config-format to force", path)
		}
		src, err := newSourceFromFile(path, format)
		if err != nil {
			return nil, err
		}
		return []Source{src}, nil
	}

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("config: Readdir failed on %s. %w", path, err)
	}
	sort.Strings(names)

	var sources []Source
	for _, name := range names {
		fp := filepath.Join(path, name)
		fi, err := os.Stat(fp)
		if err != nil {
			return nil, fmt.Errorf("config: Stat failed on %s. %w", fp, err)
		}
		// do not recurse into sub dirs
		if fi.IsDir() || !shouldParseFile(fp, format) {
			continue
		}
		src, err := newSourceFromFile(fp, format)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func newSourceFromFile(path string, format string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if format == "" {
		format = formatFromFileExtension(path)
	}
	return FileSource{Name: path, Data: string(data), Format: format}, nil
}

func formatFromFileExtension(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "json"
	case strings.HasSuffix(name, ".hcl"):
		return "hcl"
	default:
		return ""
	}
}

func shouldParseFile(path string, configFormat string) bool {
	srcFormat := formatFromFileExtension(path)
	return configFormat != "" || srcFormat == "hcl" || srcFormat == "json"
}
