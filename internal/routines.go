package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

const (
	sweepSpec  = "*/30 * * * * *"
	healthSpec = "0 */5 * * * *"
)

// Routines registers the periodic jobs on c and starts it. c must be created with cron.WithSeconds.
func Routines(c *cron.Cron, a *App) {
	log.Print(nil).Info("Running Routine Tasks")

	if _, err := c.AddFunc(sweepSpec, a.sweep); err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add retention sweep cron job")
	}

	if _, err := c.AddFunc(healthSpec, a.logHealth); err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
	}

	if a.Config.Routines.WAVersionRefresh {
		spec := a.Config.Routines.WAVersionRefreshSpec
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			status, refreshed, err := a.Version.Refresh(ctx, false)
			versionStr := status.CurrentVersion.String()
			if err != nil {
				log.Print(nil).WithField("version", versionStr).Error("WA Web version refresh failed: " + err.Error())
				return
			}
			log.Print(nil).WithField("version", versionStr).WithField("refreshed", refreshed).Info("WA Web version refresh completed")
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).Info("WA Web version refresh cron enabled")
		}
	}

	c.Start()
}

// sweep expires reply waiters. Retention caches expire their own entries.
func (a *App) sweep() {
	if replies := a.Dispatcher.Sweep(); replies > 0 {
		log.Print(nil).WithField("replies", replies).WithField("antidelete_cached", a.AntiDelete.Len()).Debug("Reply waiters expired")
	}
}

func (a *App) logHealth() {
	st := a.Manager.Status()
	entry := log.Print(nil).
		WithField("state", st.State).
		WithField("generation", st.Generation).
		WithField("failures", st.Failures).
		WithField("queued", a.Dispatcher.Queued()).
		WithField("overdue_handlers", a.Registry.Overdue()).
		WithField("uptime", time.Since(a.Started).Truncate(time.Second).String())
	if st.OpenSince == nil {
		entry.Warn("Bot is not connected")
		return
	}
	entry.Info("Bot is healthy")
}
