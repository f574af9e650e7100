package access

import "expvar"

// counters published under /debug/vars
const (
	metricSessionsOpened   = "sessions_opened"
	metricSessionsClosed   = "sessions_closed"
	metricPreviewsStarted  = "previews_started"
	metricPreviewsExpired  = "previews_expired"
	metricUnlocksSucceeded = "unlocks_succeeded"
	metricUnlocksFailed    = "unlocks_failed"
)

var metrics = expvar.NewMap("access")
