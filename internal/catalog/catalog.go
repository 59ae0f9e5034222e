// Package catalog holds the bookable services, their packages and the
// countries the studio serves.
package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Package is a priced offering inside a service.
type Package struct {
	Name     string   `yaml:"name"`
	Price    string   `yaml:"price"`
	Keywords []string `yaml:"keywords"`
}

// Service is a top-level offering with its ordered packages.
type Service struct {
	Name     string    `yaml:"name"`
	Keywords []string  `yaml:"keywords"`
	Packages []Package `yaml:"packages"`
}

// Country describes phone and postal rules for a served country.
type Country struct {
	Name         string   `yaml:"name"`
	DialCode     string   `yaml:"dial_code"`     // without "+", e.g. "977"
	PhoneMin     int      `yaml:"phone_min"`     // local digits
	PhoneMax     int      `yaml:"phone_max"`     // local digits
	MobilePrefix string   `yaml:"mobile_prefix"` // allowed first local digits, empty = any
	Pincode      string   `yaml:"pincode"`       // regexp
	Aliases      []string `yaml:"aliases"`
	Cities       []string `yaml:"cities"`

	pincodeRE *regexp.Regexp
}

// Catalog is the root of catalog.yaml.
type Catalog struct {
	Services  []Service `yaml:"services"`
	Countries []Country `yaml:"countries"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) compile() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("catalog: no services")
	}
	for i, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("catalog: service %d has no name", i+1)
		}
		if len(s.Packages) == 0 {
			return fmt.Errorf("catalog: service %q has no packages", s.Name)
		}
	}
	for i := range c.Countries {
		country := &c.Countries[i]
		if country.Name == "" || country.DialCode == "" {
			return fmt.Errorf("catalog: country %d needs name and dial_code", i+1)
		}
		if country.PhoneMin <= 0 || country.PhoneMax < country.PhoneMin {
			return fmt.Errorf("catalog: country %q has invalid phone length", country.Name)
		}
		pattern := country.Pincode
		if pattern == "" {
			pattern = `^\d{4,6}$`
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("catalog: country %q pincode: %w", country.Name, err)
		}
		country.pincodeRE = re
	}
	return nil
}

// Service returns the n-th service, 1-based.
func (c *Catalog) Service(n int) (Service, bool) {
	if n < 1 || n > len(c.Services) {
		return Service{}, false
	}
	return c.Services[n-1], true
}

// ServiceByName finds a service by its exact (case-insensitive) name.
func (c *Catalog) ServiceByName(name string) (Service, bool) {
	for _, s := range c.Services {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Service{}, false
}

// MatchService finds the service mentioned in free text. The longest
// matching keyword wins so "pre-wedding" beats "wedding".
func (c *Catalog) MatchService(text string) (Service, bool) {
	lower := strings.ToLower(text)
	best, bestLen := -1, 0
	for i, s := range c.Services {
		terms := append([]string{s.Name}, s.Keywords...)
		for _, kw := range terms {
			kw = strings.ToLower(kw)
			if len(kw) > bestLen && ContainsWord(lower, kw) {
				best, bestLen = i, len(kw)
			}
		}
	}
	if best < 0 {
		return Service{}, false
	}
	return c.Services[best], true
}

// Package returns the n-th package of a service, 1-based.
func (s Service) Package(n int) (Package, bool) {
	if n < 1 || n > len(s.Packages) {
		return Package{}, false
	}
	return s.Packages[n-1], true
}

// PackageByName finds a package of s by exact (case-insensitive) name.
func (s Service) PackageByName(name string) (Package, bool) {
	for _, p := range s.Packages {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Package{}, false
}

// MatchPackage finds the package of s mentioned in free text. Package
// keywords that are also keywords of s itself are ignored, otherwise naming
// the service would pick a package.
func (s Service) MatchPackage(text string) (Package, bool) {
	lower := strings.ToLower(text)
	for _, p := range s.Packages {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			return p, true
		}
	}
	own := make(map[string]bool, len(s.Keywords))
	for _, kw := range s.Keywords {
		own[strings.ToLower(kw)] = true
	}
	best, bestLen := -1, 0
	for i, p := range s.Packages {
		for _, kw := range p.Keywords {
			kw = strings.ToLower(kw)
			if own[kw] {
				continue
			}
			if len(kw) > bestLen && ContainsWord(lower, kw) {
				best, bestLen = i, len(kw)
			}
		}
	}
	if best < 0 {
		return Package{}, false
	}
	return s.Packages[best], true
}

// CountryByName resolves a country by name or alias.
func (c *Catalog) CountryByName(name string) (Country, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, country := range c.Countries {
		if strings.ToLower(country.Name) == name {
			return country, true
		}
		for _, a := range country.Aliases {
			if strings.ToLower(a) == name {
				return country, true
			}
		}
	}
	return Country{}, false
}

// MentionedCountry finds a country named (by name or alias) in free text.
func (c *Catalog) MentionedCountry(text string) (Country, bool) {
	lower := strings.ToLower(text)
	for _, country := range c.Countries {
		terms := append([]string{country.Name}, country.Aliases...)
		for _, t := range terms {
			if ContainsWord(lower, strings.ToLower(t)) {
				return country, true
			}
		}
	}
	return Country{}, false
}

// CountryByCity finds a country whose known city appears in free text.
func (c *Catalog) CountryByCity(text string) (Country, bool) {
	lower := strings.ToLower(text)
	for _, country := range c.Countries {
		for _, city := range country.Cities {
			if ContainsWord(lower, strings.ToLower(city)) {
				return country, true
			}
		}
	}
	return Country{}, false
}

// CountryByDialCode picks the country whose dial code is the longest prefix
// of digits.
func (c *Catalog) CountryByDialCode(digits string) (Country, bool) {
	var best Country
	found := false
	for _, country := range c.Countries {
		if strings.HasPrefix(digits, country.DialCode) && len(country.DialCode) > len(best.DialCode) {
			best = country
			found = true
		}
	}
	return best, found
}

// MatchPincode reports whether code fits the country's postal format.
func (c Country) MatchPincode(code string) bool {
	if c.pincodeRE == nil {
		return genericPincode.MatchString(code)
	}
	return c.pincodeRE.MatchString(code)
}

// ValidLocal reports whether local (digits after the dial code) is a valid
// mobile number for the country.
func (c Country) ValidLocal(local string) bool {
	if len(local) < c.PhoneMin || len(local) > c.PhoneMax {
		return false
	}
	if c.MobilePrefix != "" && !strings.ContainsRune(c.MobilePrefix, rune(local[0])) {
		return false
	}
	return true
}

var genericPincode = regexp.MustCompile(`^\d{4,6}$`)

// GenericPincode reports whether code looks like a postal code of any
// served country.
func GenericPincode(code string) bool {
	return genericPincode.MatchString(code)
}

// ContainsWord reports whether kw occurs in text on word boundaries. Both
// are expected lowercased.
func ContainsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	from := 0
	for {
		idx := strings.Index(text[from:], kw)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(kw)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
		if from >= len(text) {
			return false
		}
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r := []rune(text[i:])[0]
	return !isWordRune(r)
}

func lastRune(s string) rune {
	runes := []rune(s)
	return runes[len(runes)-1]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Source hands out the current catalog.
type Source interface {
	Catalog() *Catalog
}

// Store keeps the active catalog and swaps it atomically on reload.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore creates a store serving c.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.current.Store(c)
	return s
}

// Catalog returns the active catalog.
func (s *Store) Catalog() *Catalog {
	return s.current.Load()
}

// Replace swaps in a new catalog.
func (s *Store) Replace(c *Catalog) {
	if c != nil {
		s.current.Store(c)
	}
}
