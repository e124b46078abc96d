package cohort

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func opp(o Operator) *Operator { return &o }

func set(c *Criteria, field string, op Operator, value string) int {
	id := c.Add()
	_ = c.Update(id, CriterionPatch{Field: strp(field), Operator: opp(op), Value: strp(value)})
	return id
}

func TestNormalizeInvalidOnlyCriterion(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	set(c, "age", OpGreaterOrEqual, "abc")

	req, problems, err := c.Normalize()
	require.ErrorIs(t, err, ErrNoFilters)
	assert.Empty(t, req.Filters)
	require.Len(t, problems, 1)
	assert.Equal(t, "age", problems[0].Field)
	assert.Equal(t, "abc", problems[0].Value)
	assert.Equal(t, "VAL001", MapError(problems[0]).Code)
}

func TestNormalizeEmpty(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	_, problems, err := c.Normalize()
	assert.ErrorIs(t, err, ErrNoFilters)
	assert.Empty(t, problems)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		build      func(c *Criteria)
		wantValues []any
		wantOps    []Connector
		wantBad    int
	}{
		{
			name: "single numeric",
			build: func(c *Criteria) {
				set(c, "age", OpGreater, "42")
			},
			wantValues: []any{42.0},
			wantOps:    []Connector{},
		},
		{
			name: "parseFloat prefix",
			build: func(c *Criteria) {
				set(c, "lambda_dna_conversion_rate", OpGreaterOrEqual, " 0.95abc")
			},
			wantValues: []any{0.95},
			wantOps:    []Connector{},
		},
		{
			name: "text field keeps string",
			build: func(c *Criteria) {
				set(c, "gender", OpEqual, "F")
			},
			wantValues: []any{"F"},
			wantOps:    []Connector{},
		},
		{
			name: "connectors follow criteria",
			build: func(c *Criteria) {
				set(c, "age", OpGreater, "40")
				set(c, "gender", OpEqual, "M")
				set(c, "percent_duplication", OpLess, "0.2")
				_ = c.SetConnector(1, Or)
			},
			wantValues: []any{40.0, "M", 0.2},
			wantOps:    []Connector{And, Or},
		},
		{
			name: "invalid middle criterion drops its connector",
			build: func(c *Criteria) {
				set(c, "age", OpGreater, "40")
				set(c, "age", OpLess, "x")
				set(c, "gender", OpEqual, "M")
				_ = c.SetConnector(0, Or)
				_ = c.SetConnector(1, And)
			},
			wantValues: []any{40.0, "M"},
			wantOps:    []Connector{And},
			wantBad:    1,
		},
		{
			name: "invalid first criterion",
			build: func(c *Criteria) {
				set(c, "age", OpGreater, "")
				set(c, "age", OpLess, "65")
				set(c, "gender", OpEqual, "F")
				_ = c.SetConnector(1, Or)
			},
			wantValues: []any{65.0, "F"},
			wantOps:    []Connector{Or},
			wantBad:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCriteria(DefaultProfile())
			tt.build(c)

			req, problems, err := c.Normalize()
			require.NoError(t, err)
			assert.Len(t, problems, tt.wantBad)

			var values []any
			for _, f := range req.Filters {
				values = append(values, f.Value)
			}
			assert.Equal(t, tt.wantValues, values)
			assert.Equal(t, tt.wantOps, req.LogicalOperators)
			assert.Len(t, req.LogicalOperators, len(req.Filters)-1)
		})
	}
}

func TestFilterRequestWireShape(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	set(c, "age", OpGreaterOrEqual, "30")
	set(c, "gender", OpEqual, "F")

	req, _, err := c.Normalize()
	require.NoError(t, err)
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"filters": [
			{"field": "age", "operator": ">=", "value": 30},
			{"field": "gender", "operator": "==", "value": "F"}
		],
		"logical_operators": ["and"]
	}`, string(out))
}

func TestCriteriaAddDefaults(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	id1 := c.Add()
	id2 := c.Add()
	assert.NotEqual(t, id1, id2)

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, DefaultField, items[0].Field)
	assert.Equal(t, OpGreaterOrEqual, items[0].Operator)
	assert.Equal(t, []Connector{And}, c.Connectors())
}

func TestCriteriaRemove(t *testing.T) {
	tests := []struct {
		name      string
		remove    int // index into the created ids
		wantIDs   []int
		wantConns []Connector
	}{
		{"first takes following connector", 0, []int{2, 3}, []Connector{And}},
		{"middle takes preceding connector", 1, []int{1, 3}, []Connector{And}},
		{"last takes preceding connector", 2, []int{1, 2}, []Connector{Or}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCriteria(DefaultProfile())
			ids := []int{c.Add(), c.Add(), c.Add()}
			require.NoError(t, c.SetConnector(0, Or))

			require.NoError(t, c.Remove(ids[tt.remove]))

			var got []int
			for _, it := range c.Items() {
				got = append(got, it.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
			assert.Equal(t, tt.wantConns, c.Connectors())
		})
	}
}

func TestCriteriaRemoveOnly(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	id := c.Add()
	require.NoError(t, c.Remove(id))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Connectors())
}

func TestCriteriaUnknownID(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	assert.True(t, errors.Is(c.Remove(7), ErrCriterionNotFound))
	assert.True(t, errors.Is(c.Update(7, CriterionPatch{}), ErrCriterionNotFound))
}

func TestCriteriaUpdateRejectsBadOperator(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	id := c.Add()
	assert.Error(t, c.Update(id, CriterionPatch{Operator: opp("=>")}))
	assert.Error(t, c.SetConnector(0, And), "no connector with a single criterion")
}

func TestParseOperator(t *testing.T) {
	for _, op := range Operators {
		got, err := ParseOperator(" " + string(op) + " ")
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOperator("!=")
	assert.Error(t, err)
}

func TestParseFloatPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{"  -1.5e3x", -1500, true},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"+3", 3, true},
		{"1e", 1, true},
		{"abc", 0, false},
		{"", 0, false},
		{"-", 0, false},
		{"1e999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseFloatPrefix(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := NewCriteria(DefaultProfile())
	id := set(c, "age", OpGreater, "30")

	snap := c.Clone()
	require.NoError(t, c.Update(id, CriterionPatch{Value: strp("99")}))
	c.Add()

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, "30", snap.Items()[0].Value)
	req, _, err := snap.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 30.0, req.Filters[0].Value)
}
