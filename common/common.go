package common

import "time"

const (
	// EnvLogLevel is the environment variable to set the logging level
	EnvLogLevel = "WINDLASS_LOG_LEVEL"
	// EnvLogFormat is the environment variable to set the logging format (text or json)
	EnvLogFormat = "WINDLASS_LOG_FORMAT"
	// EnvResyncPeriod overrides the default full reconciliation period
	EnvResyncPeriod = "WINDLASS_RESYNC_PERIOD"
	// EnvSyncRetries overrides the default bound on convergence retries
	EnvSyncRetries = "WINDLASS_SYNC_RETRIES"
	// EnvStatusListenAddr overrides the default status server listen address
	EnvStatusListenAddr = "WINDLASS_STATUS_LISTEN_ADDR"
)

const (
	// DefaultDescriptorFile is the descriptor filename tracked in the desired-state repository
	DefaultDescriptorFile = "units.yaml"
	// DefaultResyncPeriod is how often every unit is reconciled regardless of events
	DefaultResyncPeriod = 180 * time.Second
	// DefaultSyncRetries is the bound on consecutive convergence attempts before a unit
	// is marked Degraded
	DefaultSyncRetries = 5
	// DefaultStatusListenAddr is the default listen address of the status server
	DefaultStatusListenAddr = ":8481"
	// DefaultStatusProcessors is the default number of workers draining the refresh queue
	DefaultStatusProcessors = 5
	// DefaultOperationProcessors is the default number of workers draining the operation queue
	DefaultOperationProcessors = 5
)

const (
	// ReviewBranchPrefix is the branch namespace used for proposed descriptor changes
	ReviewBranchPrefix = "windlass/review"
	// DefaultGitCommitUser is the committer name used for descriptor commits
	DefaultGitCommitUser = "windlass"
	// DefaultGitCommitEmail is the committer e-mail used for descriptor commits
	DefaultGitCommitEmail = "windlass@localhost"
)
