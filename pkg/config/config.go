package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config provides access to a rig configuration file with access
// tracking: every section and option read is recorded, so startup can
// report options the operator set but nothing consumed.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string

	accessed map[string]struct{}
}

// New returns an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads path, following [include glob] directives relative to the
// including file. Includes may nest; a cycle is an error.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, map[string]bool{}); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Includes are not resolved;
// this is the test and ApplyString entry point.
func LoadString(data string) (*Config, error) {
	c := New()
	p := parser{cfg: c}
	for _, raw := range strings.Split(data, "\n") {
		if err := p.line(raw); err != nil {
			return nil, err
		}
	}
	p.flush()
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	p := parser{
		cfg:  c,
		path: path,
		include: func(spec string) error {
			glob := filepath.Join(filepath.Dir(abs), spec)
			matches, err := filepath.Glob(glob)
			if err != nil {
				return fmt.Errorf("config: invalid include pattern %q: %w", spec, err)
			}
			if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
				return fmt.Errorf("config: include file does not exist: %s", glob)
			}
			sort.Strings(matches)
			for _, m := range matches {
				if err := c.parseFile(m, visited); err != nil {
					return err
				}
			}
			return nil
		},
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := p.line(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", path, err)
	}
	p.flush()
	return nil
}

// parser consumes lines one at a time and commits each section when
// the next header (or EOF, via flush) arrives. Options before the
// first header and lines without a ':' or '=' separator are ignored.
type parser struct {
	cfg     *Config
	path    string
	include func(spec string) error

	lineNum int
	section string
	options map[string]string
}

func (p *parser) line(raw string) error {
	p.lineNum++
	line := strings.TrimSpace(raw)
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		p.flush()
		header := strings.TrimSpace(line[1 : len(line)-1])
		if header == "" {
			return fmt.Errorf("config: empty section header at line %d%s", p.lineNum, p.where())
		}
		if spec, ok := strings.CutPrefix(header, "include "); ok {
			if p.include == nil {
				return fmt.Errorf("config: include not allowed at line %d%s", p.lineNum, p.where())
			}
			spec = strings.TrimSpace(spec)
			if spec == "" {
				return fmt.Errorf("config: empty include at line %d%s", p.lineNum, p.where())
			}
			return p.include(spec)
		}
		p.section = header
		p.options = make(map[string]string)
		return nil
	}

	if p.section == "" {
		return nil
	}
	key, value, found := strings.Cut(line, ":")
	if !found {
		key, value, found = strings.Cut(line, "=")
	}
	if !found {
		return nil
	}
	if key = strings.TrimSpace(key); key != "" {
		p.options[key] = strings.TrimSpace(value)
	}
	return nil
}

func (p *parser) flush() {
	if p.section != "" {
		p.cfg.addSection(p.section, p.options)
	}
	p.section = ""
	p.options = nil
}

func (p *parser) where() string {
	if p.path == "" {
		return ""
	}
	return " in " + p.path
}

// addSection commits one parsed section. A repeated header merges its
// options over the earlier ones.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns the named section and marks it accessed.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessed[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional is GetSection with nil for a missing section.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection reports existence without marking the section accessed.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSections returns every section in file order.
func (c *Config) GetSections() []*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Section, 0, len(c.order))
	for _, name := range c.order {
		result = append(result, c.sections[name])
	}
	return result
}

// GetSectionNames returns every section name in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

// GetPrefixSections returns the sections whose name starts with
// prefix, in file order. The rig's per-driver sections ("axis tw_r")
// are collected this way.
func (c *Config) GetPrefixSections(prefix string) []*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			result = append(result, c.sections[name])
		}
	}
	return result
}

// GetPrefixSectionNames is GetPrefixSections returning names only.
func (c *Config) GetPrefixSectionNames(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []string
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	return result
}

// GetAccessedSections returns the sections read so far, sorted.
func (c *Config) GetAccessedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, 0, len(c.accessed))
	for name := range c.accessed {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// GetUnusedSections returns the sections never read, sorted.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []string
	for name := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedSections errors when any section was never read.
func (c *Config) CheckUnusedSections() error {
	unused := c.GetUnusedSections()
	if len(unused) > 0 {
		return NewConfigError("", "", fmt.Sprintf("unused sections: %v", unused))
	}
	return nil
}

// CheckUnusedOptions errors when any read section holds options
// nothing consumed.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var problems []string
	for name, sec := range c.sections {
		if unused := sec.GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}

// Merge layers other on top of c: other's options win, new sections
// append in other's order.
func (c *Config) Merge(other *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for _, name := range other.order {
		otherSec := other.sections[name]
		if existing, ok := c.sections[name]; ok {
			for k, v := range otherSec.options {
				existing.options[k] = v
			}
			continue
		}
		opts := make(map[string]string, len(otherSec.options))
		for k, v := range otherSec.options {
			opts[k] = v
		}
		c.sections[name] = newSection(name, opts)
		c.order = append(c.order, name)
	}
}
