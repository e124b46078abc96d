package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

// viewProfile is the YAML shape of a view profile:
//
//	columns: [sample, ptid, age, q30_rate]
//	numeric_fields: [age, q30_rate]
//	default_field: q30_rate
type viewProfile struct {
	Columns       []string `yaml:"columns"`
	NumericFields []string `yaml:"numeric_fields"`
	DefaultField  string   `yaml:"default_field"`
}

// LoadProfile reads the view profile at path. An empty path yields the
// built-in profile.
func LoadProfile(path string) (cohort.Profile, error) {
	if path == "" {
		return cohort.DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cohort.Profile{}, fmt.Errorf("read view profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML view profile. Omitted keys keep their
// defaults.
func ParseProfile(data []byte) (cohort.Profile, error) {
	var vp viewProfile
	if err := yaml.Unmarshal(data, &vp); err != nil {
		return cohort.Profile{}, fmt.Errorf("parse view profile: %w", err)
	}

	p := cohort.DefaultProfile()
	if len(vp.Columns) > 0 {
		if !slices.Contains(vp.Columns, cohort.SampleField) {
			return cohort.Profile{}, fmt.Errorf("view profile: columns must include %q", cohort.SampleField)
		}
		p.Columns = vp.Columns
	}
	if len(vp.NumericFields) > 0 {
		p.NumericFields = vp.NumericFields
	}
	if vp.DefaultField != "" {
		p.DefaultField = vp.DefaultField
	}
	return p, nil
}
