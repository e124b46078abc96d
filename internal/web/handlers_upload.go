package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/workbook"
)

// handleUpload checks an admin's .csv or .xlsx file locally, forwards it
// to the cohort API and reloads the bulk view.
//
// The file is read into memory once: it is validated from the buffer and
// then streamed to the API. Concurrent forwards are bounded by the upload
// limiter.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	log := logging.FromContext(r.Context())

	if err := ws.Session.RequireAdmin(); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, workbook.ErrTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, workbook.ErrNoFile, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, workbook.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > maxSize {
		s.respondError(w, r, workbook.ErrTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	summary, err := workbook.Validate(header.Filename, data)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	if err := s.uploads.Acquire(ctx); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	msg, err := ws.Client.Upload(ctx, header.Filename, bytes.NewReader(data))
	s.uploads.Release()
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	log.Info("upload forwarded",
		"filename", header.Filename,
		"kind", summary.Kind,
		"sheets", len(summary.Sheets),
		"rows", summary.Rows(),
		"bytes", len(data),
	)

	err = s.dispatch(r, ws, cohort.UploadSucceeded{Message: msg})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.renderMain(w, r, ws)
}

// handleExport downloads the workbook for the displayed samples. With
// nothing to export, or when the API fails, the browser goes back to the
// page where the notification is shown.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	log := logging.FromContext(r.Context())

	ctx, cancel := s.apiContext(r)
	defer cancel()

	data, err := ws.Coordinator.Export(ctx, ws.Client)
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	if err != nil {
		if !errors.Is(err, cohort.ErrNoSamples) {
			log.Warn("export failed", "error", err)
		}
		s.renderMain(w, r, ws)
		return
	}

	if summary, err := workbook.Inspect(data); err != nil {
		log.Warn("export is not a readable workbook", "bytes", len(data), "error", err)
	} else {
		log.Info("export downloaded", "rows", summary.Rows(), "bytes", len(data))
	}

	w.Header().Set("Content-Type", workbook.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+workbook.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
