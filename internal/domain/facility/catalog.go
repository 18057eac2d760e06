package facility

import (
	"fmt"
	"os"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Catalog is the seed file for regions, districts, facilities and the
// certifying users placed in them.
type Catalog struct {
	Regions []CatalogRegion `yaml:"regions"`
	Users   []CatalogUser   `yaml:"users"`
}

type CatalogRegion struct {
	Code      string            `yaml:"code"`
	Name      string            `yaml:"name"`
	Districts []CatalogDistrict `yaml:"districts"`
}

type CatalogDistrict struct {
	Code       string            `yaml:"code"`
	Name       string            `yaml:"name"`
	Facilities []CatalogFacility `yaml:"facilities"`
}

type CatalogFacility struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// CatalogUser places a user by codes. District and facility are optional.
type CatalogUser struct {
	ID       string `yaml:"id"`
	FullName string `yaml:"fullName"`
	Role     string `yaml:"role"`
	Region   string `yaml:"region"`
	District string `yaml:"district"`
	Facility string `yaml:"facility"`
}

var regionCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// LoadCatalog reads and validates a catalogue file.
func LoadCatalog(path string) (*Catalog, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog file: %w", err)
	}
	return ParseCatalog(buf)
}

func ParseCatalog(buf []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(buf, &cat); err != nil {
		return nil, fmt.Errorf("error parsing catalog file: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) Validate() error {
	regions := make(map[string]map[string]bool)
	facilities := make(map[string]bool)
	for _, r := range c.Regions {
		if !regionCodePattern.MatchString(r.Code) {
			return fmt.Errorf("region %q: code must be three upper-case letters", r.Code)
		}
		if r.Name == "" {
			return fmt.Errorf("region %s: name is required", r.Code)
		}
		if _, dup := regions[r.Code]; dup {
			return fmt.Errorf("region %s: duplicate code", r.Code)
		}
		districts := make(map[string]bool)
		regions[r.Code] = districts
		for _, d := range r.Districts {
			if d.Code == "" || d.Name == "" {
				return fmt.Errorf("region %s: district code and name are required", r.Code)
			}
			districts[d.Code] = true
			for _, f := range d.Facilities {
				if f.Code == "" || f.Name == "" {
					return fmt.Errorf("district %s: facility code and name are required", d.Code)
				}
				if facilities[f.Code] {
					return fmt.Errorf("facility %s: duplicate code", f.Code)
				}
				facilities[f.Code] = true
			}
		}
	}
	for _, u := range c.Users {
		if _, err := uuid.Parse(u.ID); err != nil {
			return fmt.Errorf("user %q: id must be a UUID", u.ID)
		}
		if u.FullName == "" || u.Role == "" {
			return fmt.Errorf("user %s: fullName and role are required", u.ID)
		}
		if u.Region == "" {
			continue
		}
		districts, ok := regions[u.Region]
		if !ok {
			return fmt.Errorf("user %s: unknown region %s", u.ID, u.Region)
		}
		if u.District != "" && !districts[u.District] {
			return fmt.Errorf("user %s: unknown district %s", u.ID, u.District)
		}
		if u.Facility != "" && !facilities[u.Facility] {
			return fmt.Errorf("user %s: unknown facility %s", u.ID, u.Facility)
		}
	}
	return nil
}
