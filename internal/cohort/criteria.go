package cohort

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Operator is a comparison operator understood by the filter endpoint.
type Operator string

const (
	OpEqual          Operator = "=="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
)

// Operators lists every supported operator in editor order.
var Operators = []Operator{OpEqual, OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual}

// DefaultOperator is the operator a new criterion starts with.
const DefaultOperator = OpGreaterOrEqual

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	return slices.Contains(Operators, o)
}

// ParseOperator parses an operator, returning an error for unknown input.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Connector joins two consecutive criteria.
type Connector string

const (
	And Connector = "and"
	Or  Connector = "or"
)

// ParseConnector parses "and"/"or" case-insensitively.
func ParseConnector(s string) (Connector, error) {
	switch c := Connector(strings.ToLower(strings.TrimSpace(s))); c {
	case And, Or:
		return c, nil
	}
	return "", fmt.Errorf("unknown connector %q", s)
}

var (
	// ErrNoFilters is returned by Normalize when no valid criterion remains.
	// Callers fall back to the unfiltered bulk view.
	ErrNoFilters = errors.New("no filters applied")

	// ErrCriterionNotFound is returned when an ID does not exist.
	ErrCriterionNotFound = errors.New("criterion not found")
)

// Criterion is one filter predicate as edited by the user.
// Value stays the raw input until normalization.
type Criterion struct {
	ID       int
	Field    string
	Operator Operator
	Value    string
}

// CriterionPatch holds the fields to change; nil fields are left alone.
type CriterionPatch struct {
	Field    *string
	Operator *Operator
	Value    *string
}

// Filter is one normalized predicate on the wire.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"` // float64 for numeric fields, string otherwise
}

// FilterRequest is the body of the filter endpoint.
// LogicalOperators has exactly len(Filters)-1 entries.
type FilterRequest struct {
	Filters          []Filter    `json:"filters"`
	LogicalOperators []Connector `json:"logical_operators"`
}

// ValidationError reports a criterion dropped during normalization.
type ValidationError struct {
	CriterionID int
	Field       string
	Value       string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid number for %s: %q", e.Field, e.Value)
}

// Criteria is the ordered set of predicates plus the connectors between
// them. It is plain input state and is not safe for concurrent use.
type Criteria struct {
	numeric      map[string]bool
	defaultField string

	nextID     int
	items      []Criterion
	connectors []Connector
}

// NewCriteria returns an empty criteria set using the profile's numeric
// allow-list and default field.
func NewCriteria(p Profile) *Criteria {
	p = p.withDefaults()
	numeric := make(map[string]bool, len(p.NumericFields))
	for _, f := range p.NumericFields {
		numeric[f] = true
	}
	return &Criteria{numeric: numeric, defaultField: p.DefaultField}
}

// Add appends a criterion with the default field and operator and returns
// its ID. Every criterion after the first is joined with "and".
func (c *Criteria) Add() int {
	c.nextID++
	if len(c.items) > 0 {
		c.connectors = append(c.connectors, And)
	}
	c.items = append(c.items, Criterion{
		ID:       c.nextID,
		Field:    c.defaultField,
		Operator: DefaultOperator,
	})
	return c.nextID
}

// Update applies a patch to one criterion in place.
func (c *Criteria) Update(id int, patch CriterionPatch) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("update %d: %w", id, ErrCriterionNotFound)
	}
	item := c.items[idx]
	if patch.Field != nil {
		if strings.TrimSpace(*patch.Field) == "" {
			return fmt.Errorf("update %d: empty field", id)
		}
		item.Field = strings.TrimSpace(*patch.Field)
	}
	if patch.Operator != nil {
		if !patch.Operator.Valid() {
			return fmt.Errorf("update %d: unknown operator %q", id, *patch.Operator)
		}
		item.Operator = *patch.Operator
	}
	if patch.Value != nil {
		item.Value = *patch.Value
	}
	c.items[idx] = item
	return nil
}

// SetConnector sets the connector between criterion index and index+1.
func (c *Criteria) SetConnector(index int, conn Connector) error {
	if index < 0 || index >= len(c.connectors) {
		return fmt.Errorf("connector %d out of range (have %d)", index, len(c.connectors))
	}
	if conn != And && conn != Or {
		return fmt.Errorf("unknown connector %q", conn)
	}
	c.connectors[index] = conn
	return nil
}

// Remove deletes a criterion together with the connector that joined it to
// the rest: the preceding one, or the following one for the first criterion.
func (c *Criteria) Remove(id int) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("remove %d: %w", id, ErrCriterionNotFound)
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	if len(c.connectors) > 0 {
		ci := idx - 1
		if idx == 0 {
			ci = 0
		}
		c.connectors = slices.Delete(c.connectors, ci, ci+1)
	}
	return nil
}

// Items returns a copy of the criteria in order.
func (c *Criteria) Items() []Criterion {
	return slices.Clone(c.items)
}

// Connectors returns a copy of the connectors in order.
func (c *Criteria) Connectors() []Connector {
	return slices.Clone(c.connectors)
}

// Len returns the number of criteria.
func (c *Criteria) Len() int {
	return len(c.items)
}

// Clone returns an independent copy, e.g. to submit while editing goes on.
func (c *Criteria) Clone() *Criteria {
	return &Criteria{
		numeric:      c.numeric,
		defaultField: c.defaultField,
		nextID:       c.nextID,
		items:        slices.Clone(c.items),
		connectors:   slices.Clone(c.connectors),
	}
}

// Reset removes every criterion.
func (c *Criteria) Reset() {
	c.items = nil
	c.connectors = nil
}

// IsNumeric reports whether values for field are sent as numbers.
func (c *Criteria) IsNumeric(field string) bool {
	return c.numeric[field]
}

// Normalize builds the wire request.
//
// Values of numeric fields are parsed like JavaScript's parseFloat (the
// longest numeric prefix). A criterion whose value does not parse is skipped
// and reported in the returned slice; the connector in front of it goes with
// it. When nothing valid remains the error is ErrNoFilters.
func (c *Criteria) Normalize() (FilterRequest, []ValidationError, error) {
	req := FilterRequest{Filters: []Filter{}, LogicalOperators: []Connector{}}
	var problems []ValidationError

	for i, item := range c.items {
		var value any = item.Value
		if c.numeric[item.Field] {
			f, ok := parseFloatPrefix(item.Value)
			if !ok {
				problems = append(problems, ValidationError{
					CriterionID: item.ID,
					Field:       item.Field,
					Value:       item.Value,
				})
				continue
			}
			value = f
		}

		if len(req.Filters) > 0 {
			conn := And
			if i > 0 && i-1 < len(c.connectors) {
				conn = c.connectors[i-1]
			}
			req.LogicalOperators = append(req.LogicalOperators, conn)
		}
		req.Filters = append(req.Filters, Filter{
			Field:    item.Field,
			Operator: item.Operator,
			Value:    value,
		})
	}

	if len(req.Filters) == 0 {
		return FilterRequest{}, problems, ErrNoFilters
	}
	return req, problems, nil
}

func (c *Criteria) index(id int) int {
	return slices.IndexFunc(c.items, func(it Criterion) bool { return it.ID == id })
}

var floatPrefix = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// parseFloatPrefix parses the longest leading decimal number in s, ignoring
// leading whitespace. Infinite results are rejected because JSON cannot
// carry them.
func parseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	m := floatPrefix.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
