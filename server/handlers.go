package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/i18n"
	"github.com/minios-linux/doctrans/store"
	"github.com/minios-linux/doctrans/translate"
	"github.com/minios-linux/doctrans/uploads"
)

// ---------------------------------------------------------------------------
// Uploads
// ---------------------------------------------------------------------------

type uploadResponse struct {
	StoredName    string  `json:"stored_name"`
	Characters    int     `json:"characters"`
	Billable      int     `json:"billable_characters"`
	Detail        string  `json:"detail"`
	EstimatedCost float64 `json:"estimated_cost"`
	Currency      string  `json:"currency"`
	Message       string  `json:"message,omitempty"`
}

func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "missing file")
	}
	format, err := docformat.FromPath(fh.Filename)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, translate.UserMessage(err))
	}

	src, err := fh.Open()
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	stored, err := uploads.Save(s.opts.UploadsDir, fh.Filename, src, s.opts.MaxBytes, s.now())
	if err != nil {
		var tle *uploads.TooLargeError
		if errors.As(err, &tle) {
			return jsonError(c, http.StatusRequestEntityTooLarge,
				i18n.Tf("The file is larger than %s.", humanize.IBytes(uint64(tle.Limit))))
		}
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	resp := uploadResponse{StoredName: stored, Currency: s.opts.Currency}
	if s.deps.Estimator != nil {
		path := filepath.Join(s.opts.UploadsDir, stored)
		n, detail, err := s.deps.Estimator.Estimate(c.Request().Context(), path, string(format))
		resp.Detail = detail
		if err != nil {
			resp.Message = translate.UserMessage(err)
			log.WithField("stored", stored).WithError(err).Warn("Estimation failed")
		} else {
			resp.Characters = n
			if s.deps.History != nil && n > 0 {
				if err := s.deps.History.RecordRaw(stored, n); err != nil {
					log.WithError(err).Warn("Failed to record raw character count")
				}
			}
		}
	}
	resp.Billable, _ = translate.ApplyBillingFloor(format, resp.Characters)
	pricing := translate.Options{PricePerMillion: s.opts.PricePerMillion}
	resp.EstimatedCost = pricing.Cost(resp.Billable)

	return c.JSON(http.StatusCreated, resp)
}

// ---------------------------------------------------------------------------
// Translations
// ---------------------------------------------------------------------------

type submitRequest struct {
	Filename     string `json:"filename" form:"filename"`
	TargetLang   string `json:"target_lang" form:"target_lang"`
	OutputFormat string `json:"output_format" form:"output_format"`
	GlossaryID   string `json:"glossary_id" form:"glossary_id"`
	Session      string `json:"session" form:"session"`
	Batch        bool   `json:"batch" form:"batch"`
}

type submitResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
}

func (s *Server) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	name, err := uploads.CleanName(req.Filename)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if !fileExists(s.opts.UploadsDir, name) {
		return jsonError(c, http.StatusNotFound, "file not found")
	}

	id, err := s.deps.Jobs.Submit(c.Request().Context(), translate.Submission{
		Request: translate.Request{
			SourcePath:   filepath.Join(s.opts.UploadsDir, name),
			Target:       req.TargetLang,
			OutputFormat: req.OutputFormat,
			GlossaryID:   req.GlossaryID,
			Batch:        req.Batch,
		},
		Session: req.Session,
	})
	if err != nil {
		var ufe *docformat.UnsupportedFormatError
		if errors.As(err, &ufe) {
			return jsonError(c, http.StatusBadRequest, translate.UserMessage(err))
		}
		log.WithField("file", name).WithError(err).Error("Failed to submit translation")
		return jsonError(c, http.StatusInternalServerError, translate.UserMessage(err))
	}

	st, err := s.deps.Jobs.Status(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusAccepted, submitResponse{JobID: id, State: string(translate.StateCreated)})
	}
	return c.JSON(http.StatusAccepted, submitResponse{JobID: id, DocumentID: st.DocumentID, State: string(st.State)})
}

type statusResponse struct {
	State           string  `json:"state"`
	Percent         int     `json:"percent"`
	Message         string  `json:"message"`
	DocumentID      string  `json:"document_id,omitempty"`
	Billed          int     `json:"billed"`
	Cost            float64 `json:"cost"`
	FallbackApplied bool    `json:"fallback_applied"`
	Output          string  `json:"output,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (s *Server) status(c echo.Context) error {
	st, err := s.deps.Jobs.Status(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "job not found")
	}
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statusResponse{
		State:           string(st.State),
		Percent:         st.Percent,
		Message:         st.Message,
		DocumentID:      st.DocumentID,
		Billed:          st.Billed,
		Cost:            st.Cost,
		FallbackApplied: st.FallbackApplied,
		Output:          st.Output,
		Error:           st.Error,
	})
}

func (s *Server) cancel(c echo.Context) error {
	if err := s.deps.Jobs.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, translate.ErrUnknownJob) {
			return jsonError(c, http.StatusNotFound, "job not running")
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// ---------------------------------------------------------------------------
// Progress, glossaries and history
// ---------------------------------------------------------------------------

func (s *Server) progress(c echo.Context) error {
	if s.deps.Progress == nil {
		return jsonError(c, http.StatusNotFound, "progress tracking disabled")
	}
	u, err := s.deps.Progress.Read(c.Param("session"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if u.Message == "" {
		u.Message = i18n.T("Translation in progress…")
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) glossaries(c echo.Context) error {
	if s.deps.Glossaries == nil {
		return c.JSON(http.StatusOK, []struct{}{})
	}
	gs, err := s.deps.Glossaries.ListGlossaries(c.Request().Context())
	if err != nil {
		return jsonError(c, http.StatusBadGateway, translate.UserMessage(err))
	}
	return c.JSON(http.StatusOK, gs)
}

type historyRow struct {
	Name       string  `json:"name"`
	Raw        *int    `json:"raw_characters"`
	Billed     *int    `json:"billed_characters"`
	Cost       float64 `json:"cost"`
	LastUpdate string  `json:"last_update"`
}

func (s *Server) history(c echo.Context) error {
	if s.deps.History == nil {
		return c.JSON(http.StatusOK, []historyRow{})
	}
	sums, err := s.deps.History.Summaries()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	limit := len(sums)
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}
	rows := make([]historyRow, 0, limit)
	for _, sum := range sums[:limit] {
		row := historyRow{Name: sum.Name, Cost: sum.Cost, LastUpdate: sum.Last.Format("2006-01-02T15:04:05Z07:00")}
		if sum.HasRaw {
			raw := sum.Raw
			row.Raw = &raw
		}
		if sum.HasBilled {
			billed := sum.Billed
			row.Billed = &billed
		}
		rows = append(rows, row)
	}
	return c.JSON(http.StatusOK, rows)
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func (s *Server) purge(c echo.Context) error {
	res, err := uploads.Purge(s.opts.UploadsDir, s.opts.DownloadsDir, s.deps.History, c.Param("name"))
	if err != nil {
		if res == nil {
			return jsonError(c, http.StatusBadRequest, err.Error())
		}
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if s.deps.Results != nil {
		n := s.deps.Results.Forget(c.Param("name"))
		for _, out := range res.Translations {
			n += s.deps.Results.Forget(out)
		}
		if n > 0 {
			if err := s.deps.Results.Save(); err != nil {
				log.WithError(err).Warn("Failed to update result cache")
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"upload":       res.Upload,
		"translations": res.Translations,
		"history_rows": res.HistoryRows,
	})
}

func (s *Server) download(c echo.Context) error {
	name, err := uploads.CleanName(c.Param("name"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if !fileExists(s.opts.DownloadsDir, name) {
		return jsonError(c, http.StatusNotFound, "file not found")
	}
	if f, err := docformat.FromPath(name); err == nil {
		c.Response().Header().Set(echo.HeaderContentType, f.MIMEType())
	}
	return c.Attachment(filepath.Join(s.opts.DownloadsDir, name), name)
}
