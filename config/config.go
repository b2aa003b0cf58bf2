// Package config implements the hierarchical .ini-like configuration
// loader: sections, conditional blocks and transitive file inclusion
// with loop protection, used for the global script catalog and similar
// host configuration.
package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Param is a single key=value pair inside a section, kept in insertion
// order so Save can reproduce the original layout (invariant I7).
type Param struct {
	Key   string
	Value string
}

// Section is a named, ordered list of Params.
type Section struct {
	Name   string
	Params []Param
}

// Get returns the last value assigned to key in the section.
func (s *Section) Get(key string) (string, bool) {
	for i := len(s.Params) - 1; i >= 0; i-- {
		if s.Params[i].Key == key {
			return s.Params[i].Value, true
		}
	}
	return "", false
}

// GetAll returns every value assigned to key, in assignment order
// (sections may repeat a key, e.g. the `handlers` section).
func (s *Section) GetAll(key string) []string {
	var out []string
	for _, p := range s.Params {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

func (s *Section) set(key, value string) {
	for i := range s.Params {
		if s.Params[i].Key == key {
			s.Params[i].Value = value
			return
		}
	}
	s.Params = append(s.Params, Param{Key: key, Value: value})
}

func (s *Section) add(key, value string) {
	s.Params = append(s.Params, Param{Key: key, Value: value})
}

func (s *Section) clone() *Section {
	cp := &Section{Name: s.Name, Params: make([]Param, len(s.Params))}
	copy(cp.Params, s.Params)
	return cp
}

// Config is the parsed form of one configuration file tree: sections in
// file order, with later same-named sections merging params into the
// first occurrence (the way `$includesection` merges work, and the way
// repeated `[section]` blocks in one file naturally accumulate).
type Config struct {
	sections []*Section
	index    map[string]int
}

func newConfig() *Config {
	return &Config{index: make(map[string]int)}
}

// Section returns the named section, or nil.
func (c *Config) Section(name string) *Section {
	if i, ok := c.index[name]; ok {
		return c.sections[i]
	}
	return nil
}

// SectionOrCreate returns the named section, creating an empty one
// (appended at the end, preserving file order for new sections) if
// absent.
func (c *Config) SectionOrCreate(name string) *Section {
	if s := c.Section(name); s != nil {
		return s
	}
	s := &Section{Name: name}
	c.index[name] = len(c.sections)
	c.sections = append(c.sections, s)
	return s
}

// Sections returns all sections in file order.
func (c *Config) Sections() []*Section {
	return c.sections
}

// GetParam reads section.key.
func (c *Config) GetParam(section, key string) (string, bool) {
	s := c.Section(section)
	if s == nil {
		return "", false
	}
	return s.Get(key)
}

// GetIntValue reads section.key as an integer, falling back to def.
func (c *Config) GetIntValue(section, key string, def int64) int64 {
	v, ok := c.GetParam(section, key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBoolValue reads section.key as a boolean, falling back to def.
func (c *Config) GetBoolValue(section, key string, def bool) bool {
	v, ok := c.GetParam(section, key)
	if !ok {
		return def
	}
	return ParseBool(v, def)
}

// GetDoubleValue reads section.key as a float64, falling back to def.
func (c *Config) GetDoubleValue(section, key string, def float64) float64 {
	v, ok := c.GetParam(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// GetEnumValue resolves section.key against a token table (e.g.
// {"static":0,"dynamic":1,...}), falling back to def.
func (c *Config) GetEnumValue(section, key string, tokens map[string]int, def int) int {
	v, ok := c.GetParam(section, key)
	if !ok {
		return def
	}
	if n, ok := tokens[strings.ToLower(strings.TrimSpace(v))]; ok {
		return n
	}
	return def
}

// ParseBool interprets the script engine's boolean token vocabulary
// (true/yes/enable/on/1 vs false/no/disable/off/0), falling back to def
// for anything unrecognised.
func ParseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "enable", "enabled", "on", "1":
		return true
	case "false", "no", "disable", "disabled", "off", "0":
		return false
	default:
		return def
	}
}

// SetParam adds or overwrites section.key=value, creating the section if
// needed, preserving section ordering (invariant I7).
func (c *Config) SetParam(section, key, value string) {
	c.SectionOrCreate(section).set(key, value)
}

// AddParam appends another key=value even if key already exists in the
// section (used for multi-valued keys like `handlers`).
func (c *Config) AddParam(section, key, value string) {
	c.SectionOrCreate(section).add(key, value)
}

// Save serialises the config back to fs at path, preserving section
// order and each section's key/value multiset (invariant I7).
func (c *Config) Save(fs afero.Fs, path string) error {
	var b strings.Builder
	for _, s := range c.sections {
		b.WriteString("[")
		b.WriteString(s.Name)
		b.WriteString("]\n")
		for _, p := range s.Params {
			b.WriteString(p.Key)
			b.WriteString("=")
			b.WriteString(p.Value)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return afero.WriteFile(fs, path, []byte(b.String()), 0o644)
}

// sortedFilesIn lists the regular files of dir in lexicographic order,
// skipping dotfiles and `~`/`.bak`/`.tmp` names, as // requires for directory include targets.
func sortedFilesIn(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, ".") || strings.HasSuffix(n, "~") ||
			strings.HasSuffix(n, ".bak") || strings.HasSuffix(n, ".tmp") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
