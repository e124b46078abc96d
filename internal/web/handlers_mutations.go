package web

// Criteria editing. Every form post carries the whole editor, so each
// handler first applies the submitted fields and then makes its change.

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

// applyCriteriaForm copies field-{id}, operator-{id}, value-{id} and
// connector-{i} form values into c. Missing keys leave a criterion alone.
func applyCriteriaForm(r *http.Request, c *cohort.Criteria) error {
	if err := r.ParseForm(); err != nil {
		return errors.Join(errBadRequest, err)
	}

	for _, item := range c.Items() {
		id := strconv.Itoa(item.ID)
		patch, err := patchFromForm(r, "-"+id)
		if err != nil {
			return err
		}
		if err := c.Update(item.ID, patch); err != nil {
			return errors.Join(errBadRequest, err)
		}
	}

	for i := range c.Connectors() {
		raw, ok := r.Form["connector-"+strconv.Itoa(i)]
		if !ok || len(raw) == 0 {
			continue
		}
		conn, err := cohort.ParseConnector(raw[0])
		if err != nil {
			return errors.Join(errBadRequest, err)
		}
		if err := c.SetConnector(i, conn); err != nil {
			return errors.Join(errBadRequest, err)
		}
	}
	return nil
}

// patchFromForm reads field, operator and value with the given key suffix.
func patchFromForm(r *http.Request, suffix string) (cohort.CriterionPatch, error) {
	var patch cohort.CriterionPatch
	if v, ok := r.Form["field"+suffix]; ok && len(v) > 0 {
		patch.Field = &v[0]
	}
	if v, ok := r.Form["operator"+suffix]; ok && len(v) > 0 {
		op, err := cohort.ParseOperator(v[0])
		if err != nil {
			return patch, errors.Join(errBadRequest, err)
		}
		patch.Operator = &op
	}
	if v, ok := r.Form["value"+suffix]; ok && len(v) > 0 {
		patch.Value = &v[0]
	}
	return patch, nil
}

// criterionID reads the {id} path parameter.
func criterionID(r *http.Request) (int, error) {
	id, ok := parseIntParam(chi.URLParam(r, "id"))
	if !ok {
		return 0, fmt.Errorf("%w: invalid criterion id %q", errBadRequest, chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) handleAddCriterion(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	err := ws.EditCriteria(func(c *cohort.Criteria) error {
		if err := applyCriteriaForm(r, c); err != nil {
			return err
		}
		c.Add()
		return nil
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.renderMain(w, r, ws)
}

// handleUpdateCriterion also accepts unsuffixed field, operator and value
// for the criterion in the path.
func (s *Server) handleUpdateCriterion(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	id, err := criterionID(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	err = ws.EditCriteria(func(c *cohort.Criteria) error {
		if err := applyCriteriaForm(r, c); err != nil {
			return err
		}
		patch, err := patchFromForm(r, "")
		if err != nil {
			return err
		}
		if err := c.Update(id, patch); err != nil {
			return errors.Join(errBadRequest, err)
		}
		return nil
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.renderMain(w, r, ws)
}

func (s *Server) handleRemoveCriterion(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	id, err := criterionID(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	err = ws.EditCriteria(func(c *cohort.Criteria) error {
		if err := applyCriteriaForm(r, c); err != nil {
			return err
		}
		if err := c.Remove(id); err != nil {
			return errors.Join(errBadRequest, err)
		}
		return nil
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.renderMain(w, r, ws)
}

// handleSetConnector changes the connector at {index}. The new value comes
// from connector-{index}, or an unsuffixed connector field.
func (s *Server) handleSetConnector(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	index, ok := parseIntParam(chi.URLParam(r, "index"))
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: invalid connector index", errBadRequest), http.StatusBadRequest)
		return
	}

	err := ws.EditCriteria(func(c *cohort.Criteria) error {
		if err := applyCriteriaForm(r, c); err != nil {
			return err
		}
		raw := r.PostFormValue("connector")
		if raw == "" {
			if index >= len(c.Connectors()) {
				return fmt.Errorf("%w: connector %d out of range", errBadRequest, index)
			}
			return nil
		}
		conn, err := cohort.ParseConnector(raw)
		if err != nil {
			return errors.Join(errBadRequest, err)
		}
		if err := c.SetConnector(index, conn); err != nil {
			return errors.Join(errBadRequest, err)
		}
		return nil
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.renderMain(w, r, ws)
}
