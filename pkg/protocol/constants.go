package protocol

// Directory and path constants used throughout warden.
const (
	// WardenDir is the user-level state directory (e.g., ~/.warden).
	WardenDir = ".warden"

	// InboxDir is the directory, relative to WardenDir, watched for wire events.
	InboxDir = "inbox"

	// ProcessedDir and FailedDir receive inbox files after handling.
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Safety constants used when a topology omits them.
const (
	DefaultChainDepthMax   = 5
	DefaultReviewRoundsMax = 3
)

// Well-known event types emitted by warden itself. Topologies route them
// like any other declared event.
const (
	// EventSchedule is the synthetic event carried by cron-triggered invocations.
	EventSchedule = "schedule"

	// EventFixNeeded is emitted by the review controller on request_changes.
	EventFixNeeded = "fix-needed"

	// EventFollowUpNeeded is emitted when a closed review yields a lessons-learned item.
	EventFollowUpNeeded = "followup-needed"

	// EventHealthEscalation is emitted when remediation playbooks are exhausted.
	EventHealthEscalation = "health-escalation"
)
