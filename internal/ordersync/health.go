package ordersync

import "order-sync/internal/feed"

type Health string

const (
	HealthLive             Health = "live"
	HealthPolling          Health = "polling"
	HealthConnectionIssues Health = "connection_issues"
	HealthIdle             Health = "idle"
)

// health folds feed state and poll results into the one value observers see.
// Only a feed that gave up combined with a failing poller is reported as an issue.
func health(st feed.State, pollFailures, threshold int) Health {
	switch st {
	case feed.StateOpen:
		return HealthLive
	case feed.StateFailed:
		if pollFailures >= threshold {
			return HealthConnectionIssues
		}
		return HealthPolling
	case feed.StateClosed, feed.StateIdle:
		return HealthIdle
	default:
		return HealthPolling
	}
}
