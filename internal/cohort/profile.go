package cohort

// DefaultColumns is the projection applied to merged rows, in display order.
var DefaultColumns = []string{
	"sample",
	"ptid",
	"gender",
	"age",
	"lambda_dna_conversion_rate",
	"mean_insert_size",
	"percent_duplication",
	"pct_selected_bases",
	"fold_80_base_penalty",
	"pct_target_bases_10x",
}

// NumericFields lists the filterable fields whose values are sent as numbers.
var NumericFields = []string{
	"lambda_dna_conversion_rate",
	"pct_selected_bases",
	"fold_80_base_penalty",
	"percent_duplication",
	"age",
	"mean_insert_size",
	"pct_target_bases_10x",
}

// DefaultField is the field a new criterion starts with.
const DefaultField = "lambda_dna_conversion_rate"

// DefaultPageSize is the number of samples requested per bulk page.
const DefaultPageSize = 20

// Profile describes what the browser shows and how it filters.
// Zero fields fall back to the package defaults.
type Profile struct {
	Columns       []string
	NumericFields []string
	DefaultField  string
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() Profile {
	return Profile{}.withDefaults()
}

func (p Profile) withDefaults() Profile {
	if len(p.Columns) == 0 {
		p.Columns = DefaultColumns
	}
	if len(p.NumericFields) == 0 {
		p.NumericFields = NumericFields
	}
	if p.DefaultField == "" {
		p.DefaultField = DefaultField
	}
	return p
}

// FilterFields returns the fields offered in the filter editor: the numeric
// allow-list followed by any other projected column except sample.
func (p Profile) FilterFields() []string {
	p = p.withDefaults()
	seen := make(map[string]bool)
	var fields []string
	for _, f := range p.NumericFields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for _, f := range p.Columns {
		if f == SampleField || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields
}
