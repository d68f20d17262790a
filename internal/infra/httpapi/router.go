package httpapi

import (
	"context"
	"net/http"
	"time"

	"outreach_engine/internal/app"
	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/infra/gateway"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Operator is the part of the operator service the API exposes.
type Operator interface {
	PauseCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	ResumeCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	CampaignStats(ctx context.Context, id int64) (*campaign.Stats, error)
	ListLeads(ctx context.Context, campaignID int64, f campaign.LeadFilter) ([]*campaign.Lead, error)
	MoveLead(ctx context.Context, leadID int64, to campaign.CadenceStatus, notes string) (*campaign.Lead, error)
	RequeueLead(ctx context.Context, leadID int64) (*campaign.Lead, error)
}

// Builder creates campaigns.
type Builder interface {
	Build(ctx context.Context, req app.BuildRequest) (*campaign.Campaign, int, error)
}

// InstanceControl manages gateway instances on behalf of the operator.
type InstanceControl interface {
	Connect(ctx context.Context, instance string) (*gateway.ConnectResult, error)
	Restart(ctx context.Context, instance string) error
	Logout(ctx context.Context, instance string) error
}

// Handler serves the operator HTTP API.
type Handler struct {
	operator  Operator
	builder   Builder
	instances InstanceControl
	logger    *logrus.Entry
}

func NewHandler(op Operator, b Builder, ic InstanceControl, logger *logrus.Entry) *Handler {
	return &Handler{operator: op, builder: b, instances: ic, logger: logger.WithField("component", "http")}
}

// Router mounts the API, health check and metrics endpoints.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns", h.createCampaign)
		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/pause", h.pauseCampaign)
			r.Post("/resume", h.resumeCampaign)
			r.Get("/stats", h.campaignStats)
			r.Get("/leads", h.listLeads)
		})
		r.Post("/leads/{id}/move", h.moveLead)
		r.Post("/leads/{id}/requeue", h.requeueLead)
		if h.instances != nil {
			r.Get("/instances/{name}/connect", h.connectInstance)
			r.Post("/instances/{name}/restart", h.restartInstance)
			r.Delete("/instances/{name}", h.logoutInstance)
		}
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": middleware.GetReqID(r.Context()),
			"took":       time.Since(started),
		}).Debug("HTTP request")
	})
}
