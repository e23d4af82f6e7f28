package config

import (
	"strconv"
	"strings"
	"sync"
)

// Section provides access to one config section with access tracking
// and typed, bounds-checked getters. Option names are case-insensitive.
// Every getter takes an optional variadic fallback: with one, a missing
// option yields the fallback; without, it is an error.
type Section struct {
	name    string
	options map[string]string

	mu       sync.RWMutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

// raw resolves option against the section, marking it accessed when
// either the option or a fallback satisfies the lookup.
func (s *Section) raw(option string, hasFallback bool) (string, bool, error) {
	v, ok := s.options[strings.ToLower(option)]
	if !ok && !hasFallback {
		return "", false, ErrMissingOption(s.name, option)
	}
	s.mu.Lock()
	s.accessed[strings.ToLower(option)] = struct{}{}
	s.mu.Unlock()
	return v, ok, nil
}

// GetAccessedOptions returns the options read so far.
func (s *Section) GetAccessedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.accessed))
	for opt := range s.accessed {
		result = append(result, opt)
	}
	return result
}

// GetUnusedOptions returns the options never read.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	return result
}

// HasOption reports existence without marking the option accessed.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback[0], nil
	}
	return v, nil
}

// GetInt returns an integer option. Base prefixes are honored, so bus
// addresses can be written the way the driver labels carry them (0x0E).
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "integer")
	}
	return int(i), nil
}

// GetIntWithBounds is GetInt with inclusive bounds. Nil skips a bound.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "float")
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds. MinVal/MaxVal
// are inclusive, Above/Below strict. Nil skips a bound.
type FloatBounds struct {
	MinVal *float64
	MaxVal *float64
	Above  *float64
	Below  *float64
}

// GetFloatWithBounds is GetFloat with bounds validation.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	fmtBound := func(b float64) string { return strconv.FormatFloat(b, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, ErrOutOfRange(s.name, option, v, "must have minimum of "+fmtBound(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, ErrOutOfRange(s.name, option, v, "must have maximum of "+fmtBound(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, ErrOutOfRange(s.name, option, v, "must be above "+fmtBound(*bounds.Above))
	case bounds.Below != nil && v >= *bounds.Below:
		return 0, ErrOutOfRange(s.name, option, v, "must be below "+fmtBound(*bounds.Below))
	}
	return v, nil
}

// GetBool returns a boolean option. Accepted spellings: 1/true/yes/on
// and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return fallback[0], nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, ErrInvalidValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
	}
}

// GetChoice returns the matching choice, compared case-insensitively.
// The canonical spelling from choices is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// splitList breaks v on sep, trimming items and dropping empties.
func splitList(v, sep string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return []string{}
	}
	parts := strings.Split(v, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// GetList returns a separator-split list of strings.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback[0], nil
	}
	return splitList(v, sep), nil
}

// GetFloatList returns a separator-split list of floats.
func (s *Section) GetFloatList(option string, sep string, fallback ...[]float64) ([]float64, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback[0], nil
	}
	items := splitList(v, sep)
	result := make([]float64, 0, len(items))
	for _, p := range items {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, ErrInvalidValue(s.name, option, p, "float")
		}
		result = append(result, f)
	}
	return result, nil
}

// GetIntList returns a separator-split list of integers.
func (s *Section) GetIntList(option string, sep string, fallback ...[]int) ([]int, error) {
	v, ok, err := s.raw(option, len(fallback) > 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback[0], nil
	}
	items := splitList(v, sep)
	result := make([]int, 0, len(items))
	for _, p := range items {
		i, err := strconv.Atoi(p)
		if err != nil {
			return nil, ErrInvalidValue(s.name, option, p, "integer")
		}
		result = append(result, i)
	}
	return result, nil
}

// GetPrefixOptions returns the option names starting with prefix.
func (s *Section) GetPrefixOptions(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var result []string
	for opt := range s.options {
		if strings.HasPrefix(opt, prefix) {
			result = append(result, opt)
		}
	}
	return result
}

// RawOptions returns a copy of the option map, lowercased keys.
func (s *Section) RawOptions() map[string]string {
	result := make(map[string]string, len(s.options))
	for k, v := range s.options {
		result[k] = v
	}
	return result
}
