// Package daemon runs reconciliation in the background.
//
// The daemon:
//  1. Pulls the remote snapshot once at start and then on a cron schedule
//  2. Flushes the mirror's pending-write buffer on a fixed interval
//  3. Watches a file mirror root and pulls after edits made by other devices,
//     debounced so a burst of file events costs one pull
//  4. Handles graceful shutdown
//
// # Schedules
//
// Config.Schedule accepts anything robfig/cron/v3 parses with the standard
// parser plus descriptors:
//
//	"*/10 * * * *"   every ten minutes
//	"@every 90s"     fixed interval
//	"@hourly"
//
// An empty schedule disables periodic pulls.
//
// # Usage
//
//	d, err := daemon.New(engine, &daemon.Config{
//	    Schedule:      "@every 5m",
//	    DrainInterval: 30 * time.Second,
//	    WatchDir:      "/mnt/shared/rollcall",
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is canceled
//
// A pull that fails (the mirror is offline, say) is logged and retried at the
// next trigger; it never stops the daemon.
package daemon
