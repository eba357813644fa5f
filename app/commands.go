package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/feedbucket/lib"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/scheduler"
)

// Commands exposes the service as a textual command surface, for chat
// integrations and the /api/commands endpoint. Each command returns a
// human-readable reply.
type Commands struct {
	svc   *lib.Service
	table map[string]commandFunc
}

type commandFunc func(ctx context.Context, args []string) (string, error)

func NewCommands(svc *lib.Service) *Commands {
	c := &Commands{svc: svc}
	c.table = map[string]commandFunc{
		"add":        c.addFeed,
		"list":       c.listFeeds,
		"remove":     c.removeFeed,
		"toggle":     c.toggleFeed,
		"refresh":    c.refresh,
		"digest":     c.digest,
		"schedule":   c.schedule,
		"schedules":  c.schedules,
		"unschedule": c.unschedule,
		"enable":     c.enableSchedule,
		"disable":    c.disableSchedule,
		"trigger":    c.trigger,
		"stats":      c.stats,
	}
	return c
}

func (c *Commands) Dispatch(ctx context.Context, name string, args []string) (string, error) {
	cmd, ok := c.table[name]
	if !ok {
		return "", &models.NotFoundError{Resource: "command", Key: name}
	}
	return cmd(ctx, args)
}

func (c *Commands) addFeed(ctx context.Context, args []string) (string, error) {
	if len(args) < 1 {
		return "", models.NewValidationError("usage: add <url> [name]")
	}
	name := ""
	if len(args) > 1 {
		name = strings.Join(args[1:], " ")
	}

	feed, err := c.svc.RegisterFeed(ctx, args[0], name, "", nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added feed #%d: %s", feed.ID, feed.Name), nil
}

func (c *Commands) listFeeds(ctx context.Context, args []string) (string, error) {
	feeds, err := c.svc.ListFeeds(ctx, false)
	if err != nil {
		return "", err
	}
	if len(feeds) == 0 {
		return "No feeds registered", nil
	}

	var sb strings.Builder
	for _, f := range feeds {
		state := "active"
		if !f.Active {
			state = "paused"
		}
		fmt.Fprintf(&sb, "#%d %s (%s) %s\n", f.ID, f.Name, state, f.URL)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Commands) removeFeed(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", models.NewValidationError("usage: remove <feed_id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if err := c.svc.RemoveFeed(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed feed #%d", id), nil
}

func (c *Commands) toggleFeed(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", models.NewValidationError("usage: toggle <feed_id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}

	feed, err := c.svc.ToggleFeed(ctx, id, nil)
	if err != nil {
		return "", err
	}
	state := "active"
	if !feed.Active {
		state = "paused"
	}
	return fmt.Sprintf("Feed #%d is now %s", feed.ID, state), nil
}

func (c *Commands) refresh(ctx context.Context, args []string) (string, error) {
	var feedID uint
	if len(args) > 0 {
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		feedID = id
	}

	summary := c.svc.TriggerRefresh(ctx, feedID, 0)
	reply := fmt.Sprintf("Refreshed %d feed(s): %d new item(s)", len(summary.Feeds), summary.TotalNew)
	if summary.Failed > 0 {
		reply += fmt.Sprintf(", %d failed", summary.Failed)
	}
	return reply, nil
}

func (c *Commands) digest(ctx context.Context, args []string) (string, error) {
	days := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return "", models.NewValidationError("usage: digest [days]")
		}
		days = n
	}

	d, err := c.svc.GetDigest(ctx, models.LastDays(days), models.ItemFilters{}, models.DigestCaps{})
	if err != nil {
		return "", err
	}
	if d.TotalItems == 0 {
		return fmt.Sprintf("No items in the last %d day(s)", days), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d item(s) from %d feed(s), ~%d min read\n", d.TotalItems, d.FeedCount, d.ReadingTimeMinutes)
	for _, g := range d.Groups {
		fmt.Fprintf(&sb, "%s:\n", g.FeedName)
		for _, item := range g.Items {
			fmt.Fprintf(&sb, "  - %s\n", item.Title)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Commands) schedule(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", models.NewValidationError("usage: schedule <name> <interval> [feed_id]")
	}
	interval, err := time.ParseDuration(args[1])
	if err != nil {
		return "", models.NewValidationError("bad interval %q", args[1])
	}

	cfg := models.Schedule{Name: args[0], Interval: interval, Enabled: true}
	if len(args) > 2 {
		id, err := parseID(args[2])
		if err != nil {
			return "", err
		}
		cfg.FeedID = id
	}
	if err := c.svc.CreateSchedule(cfg); err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled %q every %s", cfg.Name, cfg.Interval), nil
}

func (c *Commands) schedules(ctx context.Context, args []string) (string, error) {
	scheds := c.svc.ListSchedules()
	if len(scheds) == 0 {
		return "No schedules", nil
	}

	var sb strings.Builder
	for _, s := range scheds {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "%s every %s (%s)\n", s.Name, s.Interval, state)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Commands) enableSchedule(ctx context.Context, args []string) (string, error) {
	return c.setScheduleEnabled(args, true)
}

func (c *Commands) disableSchedule(ctx context.Context, args []string) (string, error) {
	return c.setScheduleEnabled(args, false)
}

func (c *Commands) setScheduleEnabled(args []string, enabled bool) (string, error) {
	verb := "enable"
	if !enabled {
		verb = "disable"
	}
	if len(args) != 1 {
		return "", models.NewValidationError("usage: %s <name>", verb)
	}

	cfg, err := c.svc.UpdateSchedule(args[0], scheduler.ScheduleUpdate{Enabled: &enabled})
	if err != nil {
		return "", err
	}
	state := "enabled"
	if !cfg.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("Schedule %q is now %s", cfg.Name, state), nil
}

func (c *Commands) unschedule(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", models.NewValidationError("usage: unschedule <name>")
	}
	if err := c.svc.RemoveSchedule(args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed schedule %q", args[0]), nil
}

func (c *Commands) trigger(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", models.NewValidationError("usage: trigger <name>")
	}

	summary, err := c.svc.TriggerSchedule(ctx, args[0])
	if err != nil {
		return "", err
	}
	if summary == nil {
		return fmt.Sprintf("Schedule %q is already running, skipped", args[0]), nil
	}
	return fmt.Sprintf("Run %s: %d new item(s), %d failure(s)", summary.RunID, summary.TotalNew, summary.Failed), nil
}

func (c *Commands) stats(ctx context.Context, args []string) (string, error) {
	stats := c.svc.GetRefreshStats()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d schedule(s)\n", len(stats.Schedules))
	for _, s := range stats.Schedules {
		lastNew := 0
		if s.LastSummary != nil {
			lastNew = s.LastSummary.TotalNew
		}
		fmt.Fprintf(&sb, "%s: last run %d new item(s), %d skipped tick(s)\n", s.Name, lastNew, s.SkippedTicks)
	}
	if stats.LastManual != nil {
		fmt.Fprintf(&sb, "last manual run: %d new item(s)\n", stats.LastManual.TotalNew)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func parseID(s string) (uint, error) {
	u, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, models.NewValidationError("bad feed id %q", s)
	}
	return uint(u), nil
}
