package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"outreach_engine/internal/app"
	"outreach_engine/internal/domain/campaign"
	domainGateway "outreach_engine/internal/domain/gateway"
	"outreach_engine/internal/domain/quota"

	"github.com/go-chi/chi/v5"
)

type campaignView struct {
	ID             int64      `json:"id"`
	OwnerID        int64      `json:"owner_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	RotationMode   string     `json:"rotation_mode"`
	DailyLimit     int        `json:"daily_limit"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CadenceEnabled bool       `json:"cadence_enabled"`
	CreatedAt      time.Time  `json:"created_at"`
}

type createdCampaignView struct {
	campaignView
	Leads int `json:"leads"`
}

func toCampaignView(c *campaign.Campaign) campaignView {
	v := campaignView{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		Name:           c.Name,
		Status:         string(c.Status),
		RotationMode:   string(c.RotationMode),
		DailyLimit:     c.DailyLimit,
		CadenceEnabled: c.CadenceEnabled,
		CreatedAt:      c.CreatedAt,
	}
	if c.ScheduledAt.Valid {
		t := c.ScheduledAt.Time
		v.ScheduledAt = &t
	}
	return v
}

type leadView struct {
	ID                int64      `json:"id"`
	CampaignID        int64      `json:"campaign_id"`
	Phone             string     `json:"phone"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	CadenceStatus     string     `json:"cadence_status"`
	CurrentStep       int        `json:"current_step"`
	SnoozeUntil       *time.Time `json:"snooze_until,omitempty"`
	LastSentAt        *time.Time `json:"last_sent_at,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

func toLeadView(l *campaign.Lead) leadView {
	v := leadView{
		ID:                l.ID,
		CampaignID:        l.CampaignID,
		Phone:             l.Phone,
		Name:              l.Name,
		Status:            string(l.Status),
		Error:             l.Error.String,
		ProviderMessageID: l.ProviderMessageID.String,
		CadenceStatus:     string(l.CadenceStatus),
		CurrentStep:       l.CurrentStep,
		Notes:             l.Notes,
	}
	if l.SentAt.Valid {
		t := l.SentAt.Time
		v.SentAt = &t
	}
	if l.SnoozeUntil.Valid {
		t := l.SnoozeUntil.Time
		v.SnoozeUntil = &t
	}
	if l.LastSentAt.Valid {
		t := l.LastSentAt.Time
		v.LastSentAt = &t
	}
	return v
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req app.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, leads, err := h.builder.Build(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdCampaignView{campaignView: toCampaignView(c), Leads: leads})
}

func (h *Handler) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.operator.PauseCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCampaignView(c))
}

func (h *Handler) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.operator.ResumeCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCampaignView(c))
}

func (h *Handler) campaignStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stats, err := h.operator.CampaignStats(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) listLeads(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := campaign.LeadFilter{
		Status:        campaign.LeadStatus(q.Get("status")),
		CadenceStatus: campaign.CadenceStatus(q.Get("cadence_status")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	leads, err := h.operator.ListLeads(r.Context(), id, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]leadView, 0, len(leads))
	for _, l := range leads {
		out = append(out, toLeadView(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) moveLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		CadenceStatus string `json:"cadence_status"`
		Notes         string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	lead, err := h.operator.MoveLead(r.Context(), id, campaign.CadenceStatus(body.CadenceStatus), body.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadView(lead))
}

func (h *Handler) requeueLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lead, err := h.operator.RequeueLead(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadView(lead))
}

func (h *Handler) connectInstance(w http.ResponseWriter, r *http.Request) {
	res, err := h.instances.Connect(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) restartInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.instances.Restart(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.instances.Logout(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// fail maps domain errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, campaign.ErrCampaignNotFound), errors.Is(err, campaign.ErrLeadNotFound),
		errors.Is(err, domainGateway.ErrInstanceNotConnected):
		status = http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, app.ErrInvalidCampaign), errors.Is(err, app.ErrUnknownCadenceStatus):
		status = http.StatusBadRequest
	case errors.Is(err, quota.ErrNoActiveLicense):
		status = http.StatusForbidden
	case errors.Is(err, quota.ErrMonthlyQuotaExceeded):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
