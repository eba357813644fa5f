package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/scheduler"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, cmds *Commands) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, cmds)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, cmds *Commands) http.Handler {
	ctrl := &controller{log, svc, cmds}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("feedbucket", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/feeds", func(r chi.Router) {
			r.Post("/", ctrl.registerFeed)
			r.Get("/", ctrl.listFeeds)
			r.Patch("/{feed_id}", ctrl.updateFeed)
			r.Post("/{feed_id}/toggle", ctrl.toggleFeed)
			r.Delete("/{feed_id}", ctrl.removeFeed)
			r.Post("/{feed_id}/refresh", ctrl.refreshFeed)
		})

		r.Post("/refresh", ctrl.refreshAll)
		r.Get("/stats", ctrl.stats)

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", ctrl.createSchedule)
			r.Get("/", ctrl.listSchedules)
			r.Patch("/{name}", ctrl.updateSchedule)
			r.Delete("/{name}", ctrl.removeSchedule)
			r.Post("/{name}/trigger", ctrl.triggerSchedule)
		})

		r.Get("/digest", ctrl.viewDigest)
		r.Post("/digest/email", ctrl.emailDigest)
		r.Post("/items/{item_id}/status", ctrl.advanceItem)
		r.Post("/commands", ctrl.runCommand)
	})

	return r
}

type controller struct {
	log  *zap.Logger
	svc  *lib.Service
	cmds *Commands
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// rejectErr maps domain errors onto HTTP statuses.
func (ctrl *controller) rejectErr(w http.ResponseWriter, err error) {
	var (
		conflict   *models.ConflictError
		notFound   *models.NotFoundError
		validation *models.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		ctrl.reject(w, http.StatusConflict, err)
	case errors.As(err, &notFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.As(err, &validation):
		ctrl.reject(w, http.StatusBadRequest, err)
	default:
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Error("Request failed", "error", err)
		return
	} else {
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) registerFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	url := r.FormValue("url")
	name := r.FormValue("name")
	description := r.FormValue("description")
	tags := parseTags(r.FormValue("tags"))

	feed, err := ctrl.svc.RegisterFeed(ctx, url, name, description, tags)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, feed)
}

func (ctrl *controller) listFeeds(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	feeds, err := ctrl.svc.ListFeeds(r.Context(), activeOnly)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, feeds)
}

func (ctrl *controller) updateFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	feedID := parseInt(chi.URLParam(r, "feed_id"))

	var upd lib.FeedUpdate
	if v, ok := formValue(r, "name"); ok {
		upd.Name = &v
	}
	if v, ok := formValue(r, "description"); ok {
		upd.Description = &v
	}
	if v, ok := formValue(r, "tags"); ok {
		tags := parseTags(v)
		upd.Tags = &tags
	}

	feed, err := ctrl.svc.UpdateFeed(ctx, feedID, upd)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, feed)
}

func (ctrl *controller) toggleFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	feedID := parseInt(chi.URLParam(r, "feed_id"))

	var active *bool
	if v, ok := formValue(r, "active"); ok {
		b := v == "true"
		active = &b
	}

	feed, err := ctrl.svc.ToggleFeed(ctx, feedID, active)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, feed)
}

func (ctrl *controller) removeFeed(w http.ResponseWriter, r *http.Request) {
	feedID := parseInt(chi.URLParam(r, "feed_id"))

	if err := ctrl.svc.RemoveFeed(r.Context(), feedID); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deleted": feedID})
}

func (ctrl *controller) refreshFeed(w http.ResponseWriter, r *http.Request) {
	feedID := parseInt(chi.URLParam(r, "feed_id"))
	maxItems := int(parseInt(r.URL.Query().Get("max_items")))

	summary := ctrl.svc.TriggerRefresh(r.Context(), feedID, maxItems)
	ctrl.resolve(w, http.StatusOK, RunView{}.From(summary))
}

func (ctrl *controller) refreshAll(w http.ResponseWriter, r *http.Request) {
	maxItems := int(parseInt(r.URL.Query().Get("max_items")))

	summary := ctrl.svc.TriggerRefresh(r.Context(), 0, maxItems)
	ctrl.resolve(w, http.StatusOK, RunView{}.From(summary))
}

func (ctrl *controller) stats(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, ctrl.svc.GetRefreshStats())
}

type scheduleRequest struct {
	Name     string                `json:"name"`
	FeedID   uint                  `json:"feed_id"`
	Interval string                `json:"interval"`
	MaxItems int                   `json:"max_items"`
	Webhook  *models.WebhookTarget `json:"webhook"`
}

func (ctrl *controller) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("bad interval %q: %w", req.Interval, err))
		return
	}

	cfg := models.Schedule{
		Name:     req.Name,
		FeedID:   req.FeedID,
		Interval: interval,
		MaxItems: req.MaxItems,
		Enabled:  true,
		Webhook:  req.Webhook,
	}
	if err := ctrl.svc.CreateSchedule(cfg); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, ScheduleView{}.From(cfg))
}

type scheduleUpdateRequest struct {
	Enabled  *bool                 `json:"enabled"`
	Interval *string               `json:"interval"`
	MaxItems *int                  `json:"max_items"`
	Webhook  *models.WebhookTarget `json:"webhook"`
}

func (ctrl *controller) updateSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	upd := scheduler.ScheduleUpdate{
		Enabled:  req.Enabled,
		MaxItems: req.MaxItems,
		Webhook:  req.Webhook,
	}
	if req.Interval != nil {
		interval, err := time.ParseDuration(*req.Interval)
		if err != nil {
			ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("bad interval %q: %w", *req.Interval, err))
			return
		}
		upd.Interval = &interval
	}

	cfg, err := ctrl.svc.UpdateSchedule(name, upd)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ScheduleView{}.From(*cfg))
}

func (ctrl *controller) listSchedules(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, FromMany[models.Schedule, ScheduleView](ctrl.svc.ListSchedules()))
}

func (ctrl *controller) removeSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := ctrl.svc.RemoveSchedule(name); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deleted": name})
}

func (ctrl *controller) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	summary, err := ctrl.svc.TriggerSchedule(r.Context(), name)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	if summary == nil {
		ctrl.resolve(w, http.StatusConflict, map[string]any{"skipped": name})
		return
	}
	ctrl.resolve(w, http.StatusOK, RunView{}.From(summary))
}

func (ctrl *controller) viewDigest(w http.ResponseWriter, r *http.Request) {
	window, filters, caps := digestParams(r)

	d, err := ctrl.svc.GetDigest(r.Context(), window, filters, caps)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, d)
}

func (ctrl *controller) emailDigest(w http.ResponseWriter, r *http.Request) {
	recipient := r.FormValue("recipient")
	window, filters, caps := digestParams(r)

	if err := ctrl.svc.EmailDigest(r.Context(), recipient, window, filters, caps); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, map[string]any{"recipient": recipient})
}

func (ctrl *controller) advanceItem(w http.ResponseWriter, r *http.Request) {
	itemID := parseInt(chi.URLParam(r, "item_id"))
	status := models.ItemStatus(r.FormValue("status"))

	if err := ctrl.svc.AdvanceItem(r.Context(), itemID, status); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"id": itemID, "status": status})
}

func (ctrl *controller) runCommand(w http.ResponseWriter, r *http.Request) {
	line := strings.TrimSpace(r.FormValue("command"))
	if line == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("Command is required"))
		return
	}

	words := strings.Fields(line)
	reply, err := ctrl.cmds.Dispatch(r.Context(), words[0], words[1:])
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"reply": reply})
}

func digestParams(r *http.Request) (models.Window, models.ItemFilters, models.DigestCaps) {
	q := r.URL.Query()

	days := int(parseInt(q.Get("days")))
	if days <= 0 {
		days = 1
	}
	window := models.LastDays(days)

	filters := models.ItemFilters{
		FeedID:      parseInt(q.Get("feed_id")),
		Tags:        parseTags(q.Get("tags")),
		MinPriority: models.Priority(q.Get("min_priority")),
	}
	caps := models.DigestCaps{
		PerFeed: int(parseInt(q.Get("per_feed"))),
		Total:   int(parseInt(q.Get("total"))),
	}
	return window, filters, caps
}

func formValue(r *http.Request, key string) (string, bool) {
	r.ParseForm()
	if _, ok := r.Form[key]; !ok {
		return "", false
	}
	return r.FormValue(key), true
}

func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseInt(s string) uint {
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
