package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds a parsed configuration file: named sections of key/value
// options. Section and option names are case-insensitive.
type Config struct {
	sections map[string]*Section
	order    []string
}

// New creates an empty Config.
func New() *Config {
	return &Config{sections: make(map[string]*Section)}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	if err := c.parse(bufio.NewScanner(f)); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// LoadString parses a configuration from a string.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(bufio.NewScanner(strings.NewReader(data))); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parse(scanner *bufio.Scanner) error {
	var current *Section
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Strip comments.
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return fmt.Errorf("empty section header at line %d", lineNum)
			}
			current = c.section(name)
			continue
		}

		// Options before the first section header are invalid.
		if current == nil {
			return fmt.Errorf("option outside of a section at line %d", lineNum)
		}

		// key: value or key = value
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, "=", 2)
		}
		if len(kv) != 2 {
			return fmt.Errorf("malformed option at line %d: %q", lineNum, line)
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if key == "" {
			return fmt.Errorf("empty option name at line %d", lineNum)
		}
		current.options[key] = strings.TrimSpace(kv[1])
	}
	return scanner.Err()
}

// section returns the named section, creating it if needed. Duplicate
// headers merge into the existing section.
func (c *Config) section(name string) *Section {
	key := strings.ToLower(name)
	if s, ok := c.sections[key]; ok {
		return s
	}
	s := &Section{name: name, options: make(map[string]string)}
	c.sections[key] = s
	c.order = append(c.order, key)
	return s
}

// HasSection reports whether the named section exists.
func (c *Config) HasSection(name string) bool {
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// GetSection returns the named section or an error if absent.
func (c *Config) GetSection(name string) (*Section, error) {
	s, ok := c.sections[strings.ToLower(name)]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	return s, nil
}

// SectionOr returns the named section, or an empty one if absent. Useful
// when every option in the section has a default.
func (c *Config) SectionOr(name string) *Section {
	if s, ok := c.sections[strings.ToLower(name)]; ok {
		return s
	}
	return &Section{name: name, options: make(map[string]string)}
}

// SectionNames returns the section names in file order.
func (c *Config) SectionNames() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Section is one [name] block of options.
type Section struct {
	name    string
	options map[string]string
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// HasOption reports whether the option is present.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option. The fallback is used when the option is
// absent; with no fallback an absent option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", ErrMissingOption(s.name, option)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, ErrInvalidValue(s.name, option, v, "integer")
		}
		return i, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, ErrMissingOption(s.name, option)
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, ErrInvalidValue(s.name, option, v, "float")
		}
		return f, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, ErrMissingOption(s.name, option)
}

// GetBool returns a boolean option. Accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return false, ErrInvalidValue(s.name, option, v, "boolean")
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return false, ErrMissingOption(s.name, option)
}

// GetDuration returns a duration option in Go duration syntax ("25ms", "1s").
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, ErrInvalidValue(s.name, option, v, "duration")
		}
		return d, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, ErrMissingOption(s.name, option)
}
