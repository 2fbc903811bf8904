package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/captcha"
	"github.com/marketlens/scraperd/internal/jobs"
	"github.com/marketlens/scraperd/internal/sites"
	"github.com/marketlens/scraperd/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type createJobConfig struct {
	MaxItems       int `json:"max_items"`
	TimeoutSeconds int `json:"timeout_seconds"`
	Retries        int `json:"retries"`
}

// createJobRequest accepts both the published client contract (searchQuery,
// selectedFields, nested config) and the shorter snake_case aliases.
type createJobRequest struct {
	Site           string           `json:"site"`
	SearchQuery    string           `json:"searchQuery"`
	Query          string           `json:"query"`
	SelectedFields []string         `json:"selectedFields"`
	Fields         []string         `json:"fields"`
	Config         *createJobConfig `json:"config"`
	MaxItems       int              `json:"max_items"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	Retries        int              `json:"retries"`
}

func (r createJobRequest) params() jobs.CreateParams {
	p := jobs.CreateParams{
		Site:           r.Site,
		Query:          r.Query,
		Fields:         r.Fields,
		MaxItems:       r.MaxItems,
		TimeoutSeconds: r.TimeoutSeconds,
		Retries:        r.Retries,
	}
	if p.Query == "" {
		p.Query = r.SearchQuery
	}
	if len(p.Fields) == 0 {
		p.Fields = r.SelectedFields
	}
	if r.Config != nil {
		if r.Config.MaxItems != 0 {
			p.MaxItems = r.Config.MaxItems
		}
		if r.Config.TimeoutSeconds != 0 {
			p.TimeoutSeconds = r.Config.TimeoutSeconds
		}
		if r.Config.Retries != 0 {
			p.Retries = r.Config.Retries
		}
	}
	return p
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.svc.CreateJob(r.Context(), userIDFrom(r.Context()), req.params())
	if err != nil {
		s.writeServiceError(w, err, "create job")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, page, err := parsePageLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.JobFilter{
		Status: store.JobStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Site:   strings.ToLower(strings.TrimSpace(r.URL.Query().Get("site"))),
		Limit:  limit,
		Offset: offset,
	}
	list, total, err := s.svc.ListJobs(r.Context(), userIDFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, err, "list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":       toJobDTOs(list),
		"pagination": paginationDTO(page, limit, total),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.svc.GetJob(r.Context(), userIDFrom(r.Context()), jobID)
	if err != nil {
		s.writeServiceError(w, err, "get job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, page, err := parsePageLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, total, err := s.svc.ListResults(r.Context(), userIDFrom(r.Context()), jobID, limit, offset)
	if err != nil {
		s.writeServiceError(w, err, "list results")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"results":    toResultDTOs(results),
		"pagination": paginationDTO(page, limit, total),
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.svc.CancelJob(r.Context(), userIDFrom(r.Context()), jobID)
	if err != nil {
		s.writeServiceError(w, err, "cancel job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.DeleteJob(r.Context(), userIDFrom(r.Context()), jobID); err != nil {
		s.writeServiceError(w, err, "delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateCaptchaRequest struct {
	SessionID string `json:"session_id"`
	Solution  string `json:"solution"`
}

func (s *Server) validateCaptcha(w http.ResponseWriter, r *http.Request) {
	var req validateCaptchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Solution) == "" {
		s.writeError(w, http.StatusBadRequest, "session_id and solution are required")
		return
	}
	v, job, err := s.svc.ResumeWithCaptcha(r.Context(), userIDFrom(r.Context()), req.SessionID, req.Solution)
	if err != nil {
		s.writeServiceError(w, err, "validate captcha")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid":   v.Valid,
		"message": v.Message,
		"job":     toJobDTO(job),
	})
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.ListSites()
	out := make([]siteDTO, 0, len(all))
	for _, site := range all {
		out = append(out, siteDTO{
			ID:      site.ID,
			Name:    site.Name,
			Captcha: site.CaptchaScript != "",
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) listSiteFields(w http.ResponseWriter, r *http.Request) {
	site := strings.ToLower(chi.URLParam(r, "site"))
	fields, err := s.registry.FieldsFor(site)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	defaults, err := s.registry.DefaultFieldsFor(site)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"site":           site,
		"fields":         fields,
		"default_fields": defaults,
	}})
}

// getConfig returns the full per-site catalog in one round trip so clients
// can build the request wizard without walking the fields endpoint, plus the
// deployment limits under a separate key.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.ListSites()
	catalog := make([]siteCatalogDTO, 0, len(all))
	for _, site := range all {
		catalog = append(catalog, siteCatalogDTO{
			ID:            site.ID,
			Name:          site.Name,
			Fields:        site.Fields,
			DefaultFields: site.DefaultFields,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"data": catalog,
		"limits": map[string]any{
			"quota_per_user":          s.cfg.QuotaPerUser,
			"default_max_items":       s.cfg.DefaultMaxItems,
			"max_items_cap":           s.cfg.MaxItemsCap,
			"default_timeout_seconds": s.cfg.DefaultTimeoutSeconds,
			"max_retries":             s.cfg.MaxRetries,
		},
	})
}

// writeServiceError maps service-layer failures onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, op string) {
	var vErr *jobs.ValidationError
	switch {
	case errors.As(err, &vErr):
		payload := map[string]any{"error": vErr.Message}
		if len(vErr.InvalidFields) > 0 {
			payload["invalid_fields"] = vErr.InvalidFields
		}
		s.writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, store.ErrQuotaExceeded):
		s.writeError(w, http.StatusTooManyRequests, "active job quota exceeded")
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, captcha.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "captcha session not found or expired")
	case errors.Is(err, jobs.ErrInvalidState):
		s.writeError(w, http.StatusBadRequest, "job state does not allow this operation")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "job_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

// parsePageLimit reads 1-based page and limit query parameters and converts
// them to a limit/offset pair.
func parsePageLimit(r *http.Request) (limit, offset, page int, err error) {
	q := r.URL.Query()
	limit = defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		val, convErr := strconv.Atoi(raw)
		if convErr != nil || val <= 0 {
			return 0, 0, 0, errors.New("invalid limit")
		}
		if val > maxPageLimit {
			val = maxPageLimit
		}
		limit = val
	}
	page = 1
	if raw := q.Get("page"); raw != "" {
		val, convErr := strconv.Atoi(raw)
		if convErr != nil || val <= 0 {
			return 0, 0, 0, errors.New("invalid page")
		}
		page = val
	}
	return limit, (page - 1) * limit, page, nil
}

func paginationDTO(page, limit, total int) map[string]any {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return map[string]any{
		"page":        page,
		"limit":       limit,
		"total":       total,
		"total_pages": totalPages,
	}
}

type siteDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Captcha bool   `json:"captcha"`
}

type siteCatalogDTO struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Fields        []sites.Field `json:"fields"`
	DefaultFields []string      `json:"default_fields"`
}

type jobConfigDTO struct {
	MaxItems       int `json:"max_items"`
	TimeoutSeconds int `json:"timeout_seconds"`
	Retries        int `json:"retries"`
}

type jobErrorDTO struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

type captchaDTO struct {
	ChallengeType string `json:"challenge_type"`
	ChallengeURL  string `json:"challenge_url"`
	SessionID     string `json:"session_id"`
}

type jobDTO struct {
	ID           string        `json:"id"`
	Site         string        `json:"site"`
	Query        string        `json:"query"`
	Fields       []string      `json:"fields"`
	Status       string        `json:"status"`
	TotalItems   int           `json:"total_items"`
	ScrapedItems int           `json:"scraped_items"`
	Config       jobConfigDTO  `json:"config"`
	Error        *jobErrorDTO  `json:"error,omitempty"`
	Captcha      *captchaDTO   `json:"captcha,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func toJobDTOs(in []store.Job) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, job := range in {
		out = append(out, toJobDTO(job))
	}
	return out
}

func toJobDTO(job store.Job) jobDTO {
	dto := jobDTO{
		ID:           job.ID.String(),
		Site:         job.Site,
		Query:        job.Query,
		Fields:       job.Fields,
		Status:       jobs.DisplayStatus(job),
		TotalItems:   job.TotalItems,
		ScrapedItems: job.ScrapedItems,
		Config: jobConfigDTO{
			MaxItems:       job.Config.MaxItems,
			TimeoutSeconds: job.Config.TimeoutSeconds,
			Retries:        job.Config.Retries,
		},
		ArtifactPath: job.ArtifactPath,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Error != nil {
		dto.Error = &jobErrorDTO{Message: job.Error.Message, Trace: job.Error.Trace}
	}
	if job.Challenge != nil && !job.Status.Terminal() {
		dto.Captcha = &captchaDTO{
			ChallengeType: job.Challenge.Type,
			ChallengeURL:  job.Challenge.URL,
			SessionID:     job.Challenge.SessionID,
		}
	}
	return dto
}

type resultDTO struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	ItemIndex int            `json:"item_index"`
	URL       string         `json:"url"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func toResultDTOs(in []store.Result) []resultDTO {
	out := make([]resultDTO, 0, len(in))
	for _, res := range in {
		out = append(out, resultDTO{
			ID:        res.ID.String(),
			JobID:     res.JobID.String(),
			ItemIndex: res.ItemIndex,
			URL:       res.SourceURL,
			Payload:   res.Payload,
			CreatedAt: res.CreatedAt,
		})
	}
	return out
}
