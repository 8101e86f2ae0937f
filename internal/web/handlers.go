package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is allowed on top of the file size for form fields.
const multipartOverhead = 1 << 20

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"jobs":   s.service.LimiterStatus(),
	}
	status := http.StatusOK
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Error("health check failed", "error", err)
			resp["status"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// pageSummary is a template choice. Bodies are left out of the listing.
type pageSummary struct {
	ID       content.PageID `json:"id"`
	Title    string         `json:"title"`
	Slug     string         `json:"slug"`
	ParentID content.PageID `json:"parent_id"`
	Status   string         `json:"status"`
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]pageSummary, len(pages))
	for i, p := range pages {
		out[i] = pageSummary{ID: p.ID, Title: p.Title, Slug: p.Slug, ParentID: p.ParentID, Status: p.Status}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func (s *Server) handleScanTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pageIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.ScanTemplate(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseResponse is a parsed CSV upload.
type parseResponse struct {
	Headers []string       `json:"headers"`
	Rows    []csvtable.Row `json:"rows"`
}

func (s *Server) handleParseCSV(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}

	table, _, err := s.readCSVFile(r, r.FormValue("delimiter"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{Headers: table.Headers, Rows: table.Rows})
}

// parseMultipart parses a multipart form whose file may be up to the
// configured maximum size.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	maxSize := s.cfg.Generate.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	err := r.ParseMultipartForm(multipartOverhead)
	if err == nil {
		return nil
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return fmt.Errorf("%w: limit is %d bytes", csvtable.ErrFileTooLarge, maxSize)
	case errors.Is(err, http.ErrNotMultipart):
		return errors.New("no file provided")
	default:
		return fmt.Errorf("%w: invalid form: %v", core.ErrInvalidRequest, err)
	}
}

// readCSVFile parses the "file" field of a parsed multipart form. It
// returns the table and the uploaded file name.
func (s *Server) readCSVFile(r *http.Request, delimiter string) (csvtable.Table, string, error) {
	delim, ok := csvtable.ParseDelimiter(delimiter)
	if !ok {
		return csvtable.Table{}, "", fmt.Errorf("%w: unsupported delimiter %q", core.ErrInvalidRequest, delimiter)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return csvtable.Table{}, "", errors.New("no file provided")
	}
	defer file.Close()

	text, err := csvtable.ReadAll(file, s.cfg.Generate.MaxFileSize)
	if err != nil {
		return csvtable.Table{}, "", err
	}

	table := csvtable.Parse(text, csvtable.WithDelimiter(delim))
	if len(table.Headers) == 0 {
		return csvtable.Table{}, "", errors.New("invalid CSV: no header row")
	}
	return table, header.Filename, nil
}

// previewResponse pairs the rendered row with its SEO snippet.
type previewResponse struct {
	core.PreviewResult
	SEO     SEOSnippet `json:"seo"`
	SEOHTML string     `json:"seo_html"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body PreviewBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Preview(r.Context(), body.request())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	snippet := seoSnippet(res)
	if acceptsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := snippet.component().Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render seo preview", "error", err)
		}
		return
	}

	html, err := renderString(r.Context(), snippet.component())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{PreviewResult: res, SEO: snippet, SEOHTML: html})
}

// seoSnippet prefers imported SEO meta and falls back to the rendered page.
func seoSnippet(res core.PreviewResult) SEOSnippet {
	title := res.Meta[content.MetaKeySEOTitle]
	if title == "" {
		title = res.Title
	}
	desc := res.Meta[content.MetaKeySEODescription]
	if desc == "" {
		desc = plainText(res.Body)
	}
	return SEOSnippet{
		Title:       title,
		URL:         "/" + res.Slug + "/",
		Description: truncateText(desc, seoDescriptionLength),
	}
}

var plainTextSanitizer = content.NewHTMLSanitizer()

func plainText(html string) string {
	return plainTextSanitizer.Title(html)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Generate(r.Context(), body.request())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStartJob takes a multipart form with the CSV in "file" and a
// JobBody as JSON in "request", and starts a background job.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}

	var body JobBody
	if err := decodeJSONString(r.FormValue("request"), &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	table, source, err := s.readCSVFile(r, body.Delimiter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	jobID, err := s.service.StartGeneration(r.Context(), core.GenerateRequest{
		TemplateID: body.TemplateID,
		Mapping:    body.mapping(),
		Rows:       table.Rows,
		Slug:       body.slug(),
		Meta:       body.meta(),
		Source:     source,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"total":  table.Len(),
	})
}

// handleJobProgress streams job progress as Server-Sent Events. Event IDs
// are the completion percentage; a client reconnecting with lastEventId
// skips events it has already seen.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	var last core.JobProgress
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				data, _ := json.Marshal(s.finalProgress(r.Context(), jobID, last))
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}
			last = progress

			pct := progress.Percent()
			if pct <= lastEventID && !progress.Phase.Done() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			if err := rc.Flush(); err != nil {
				logging.FromContext(r.Context()).Warn("sse flush failed", "job_id", jobID, "error", err)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// finalProgress returns the job's terminal progress from its result. The
// last streamed event is only a fallback, since a full subscriber buffer
// can drop the final update.
func (s *Server) finalProgress(ctx context.Context, jobID string, last core.JobProgress) core.JobProgress {
	res, err := s.service.JobResult(ctx, jobID)
	if err != nil {
		logging.FromContext(ctx).Warn("final job result unavailable", "job_id", jobID, "error", err)
		return last
	}
	return res.Progress()
}

// handleJobResult returns a job's result, waiting for it to finish unless
// wait=false is given.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if r.URL.Query().Get("wait") == "false" {
		progress, err := s.service.JobProgress(jobID)
		if err == nil && !progress.Phase.Done() {
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	res, err := s.service.JobResult(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if res.Result.Errors == nil {
		res.Result.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.service.CancelJob(jobID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "job_id": jobID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 0)
	runs, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func pageIDParam(r *http.Request, name string) (content.PageID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a page ID, got %q", core.ErrInvalidRequest, name, raw)
	}
	return content.PageID(id), nil
}
