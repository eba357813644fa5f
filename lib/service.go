package lib

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/scheduler"
	"github.com/fiffu/feedbucket/lib/store"
	"github.com/fiffu/feedbucket/senders"
)

// Service is the public surface consumed by the API and chat layers.
type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	store   store.Store
	coord   *Coordinator
	sched   *scheduler.Scheduler
	digest  *Assembler
	senders senders.Registry
}

func NewService(
	cfg *config.Config,
	log *zap.Logger,
	st store.Store,
	coord *Coordinator,
	sched *scheduler.Scheduler,
	digest *Assembler,
	reg senders.Registry,
) *Service {
	return &Service{cfg, log, st, coord, sched, digest, reg}
}

func validateFeedURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, models.NewValidationError("feed URL must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, models.NewValidationError("feed URL must be an absolute http(s) URL: %s", raw)
	}
	return u, nil
}

func (svc *Service) RegisterFeed(ctx context.Context, feedURL, name, description string, tags []string) (*models.Feed, error) {
	u, err := validateFeedURL(feedURL)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = u.Host
	}

	feed := &models.Feed{
		URL:         feedURL,
		Name:        name,
		Description: description,
		Tags:        tags,
		Active:      true,
	}
	if err := svc.store.CreateFeed(ctx, feed); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Registered feed", "feed_id", feed.ID, "url", feed.URL, "name", feed.Name)
	return feed, nil
}

// FeedUpdate carries optional mutations; nil fields are left untouched.
type FeedUpdate struct {
	Name        *string
	Description *string
	Tags        *[]string
}

func (svc *Service) UpdateFeed(ctx context.Context, feedID uint, upd FeedUpdate) (*models.Feed, error) {
	feed, err := svc.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		feed.Name = *upd.Name
	}
	if upd.Description != nil {
		feed.Description = *upd.Description
	}
	if upd.Tags != nil {
		feed.Tags = *upd.Tags
	}
	if err := svc.store.UpdateFeed(ctx, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// ToggleFeed flips the active flag, or sets it explicitly when active
// is non-nil.
func (svc *Service) ToggleFeed(ctx context.Context, feedID uint, active *bool) (*models.Feed, error) {
	feed, err := svc.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		feed.Active = *active
	} else {
		feed.Active = !feed.Active
	}
	if err := svc.store.UpdateFeed(ctx, feed); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Toggled feed", "feed_id", feed.ID, "active", feed.Active)
	return feed, nil
}

func (svc *Service) RemoveFeed(ctx context.Context, feedID uint) error {
	if err := svc.store.DeleteFeed(ctx, feedID); err != nil {
		return err
	}
	svc.log.Sugar().Infow("Removed feed", "feed_id", feedID)
	return nil
}

func (svc *Service) ListFeeds(ctx context.Context, activeOnly bool) (models.Feeds, error) {
	return svc.store.ListFeeds(ctx, activeOnly)
}

// TriggerRefresh refreshes one feed (feedID != 0) or all active feeds.
// Fetch failures are reported inside the summary, never raised.
func (svc *Service) TriggerRefresh(ctx context.Context, feedID uint, maxItems int) *models.RunSummary {
	return svc.sched.RunAdHoc(ctx, feedID, maxItems)
}

func (svc *Service) GetRefreshStats() scheduler.Stats {
	return svc.sched.Stats()
}

func (svc *Service) CreateSchedule(cfg models.Schedule) error {
	return svc.sched.Create(cfg)
}

func (svc *Service) UpdateSchedule(name string, upd scheduler.ScheduleUpdate) (*models.Schedule, error) {
	return svc.sched.Update(name, upd)
}

func (svc *Service) RemoveSchedule(name string) error {
	return svc.sched.Remove(name)
}

func (svc *Service) ListSchedules() []models.Schedule {
	return svc.sched.List()
}

// TriggerSchedule fires a schedule immediately. A nil summary with nil
// error means the firing was dropped because a run was already
// executing.
func (svc *Service) TriggerSchedule(ctx context.Context, name string) (*models.RunSummary, error) {
	return svc.sched.Trigger(ctx, name)
}

func (svc *Service) GetDigest(ctx context.Context, w models.Window, f models.ItemFilters, caps models.DigestCaps) (*models.Digest, error) {
	if !w.Until.After(w.Since) {
		return nil, models.NewValidationError("digest window must not be empty")
	}
	return svc.digest.Assemble(ctx, w, f, caps)
}

// EmailDigest assembles a digest and delivers it to the recipient via
// the email sender.
func (svc *Service) EmailDigest(ctx context.Context, recipient string, w models.Window, f models.ItemFilters, caps models.DigestCaps) error {
	if !strings.Contains(recipient, "@") {
		return models.NewValidationError("recipient must be an email address: %s", recipient)
	}

	d, err := svc.GetDigest(ctx, w, f, caps)
	if err != nil {
		return err
	}

	sender, ok := svc.senders["email"]
	if !ok {
		return fmt.Errorf("no email sender registered")
	}

	subject, body := senders.FormatDigestEmail(d)
	id, err := sender.Send(ctx, senders.Message{Target: recipient, Subject: subject, HTML: body})
	if err != nil {
		svc.log.Sugar().Warnw("Failed to send digest email", "recipient", recipient, "err", err)
		return err
	}
	svc.log.Sugar().Infow("Sent digest email", "recipient", recipient, "message_id", id, "items", d.TotalItems)
	return nil
}

// AdvanceItem moves an item's status forward; the store rejects
// regressions.
func (svc *Service) AdvanceItem(ctx context.Context, itemID uint, status models.ItemStatus) error {
	return svc.store.UpdateItemStatus(ctx, itemID, status)
}
