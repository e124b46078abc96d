package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

// whereExpr matches "field op value", with or without spaces around op.
// Two-character operators are listed first so ">=" is not read as ">".
var whereExpr = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s*(==|>=|<=|>|<)\s*(.*?)\s*$`)

// parseWhere splits a --where expression into a criterion patch.
func parseWhere(expr string) (cohort.CriterionPatch, error) {
	m := whereExpr.FindStringSubmatch(expr)
	if m == nil {
		return cohort.CriterionPatch{}, fmt.Errorf("invalid --where %q: want FIELD OP VALUE with OP one of == > < >= <=", expr)
	}
	op, err := cohort.ParseOperator(m[2])
	if err != nil {
		return cohort.CriterionPatch{}, err
	}
	field, value := m[1], m[3]
	return cohort.CriterionPatch{Field: &field, Operator: &op, Value: &value}, nil
}

// buildCriteria turns --where expressions into criteria joined by "and",
// or by "or" when useOr is set.
func buildCriteria(p cohort.Profile, wheres []string, useOr bool) (*cohort.Criteria, error) {
	c := cohort.NewCriteria(p)
	for _, w := range wheres {
		if strings.TrimSpace(w) == "" {
			continue
		}
		patch, err := parseWhere(w)
		if err != nil {
			return nil, err
		}
		if err := c.Update(c.Add(), patch); err != nil {
			return nil, err
		}
	}
	if useOr {
		for i := range c.Connectors() {
			if err := c.SetConnector(i, cohort.Or); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}
