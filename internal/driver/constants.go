package driver

import "time"

// Default ring configuration.
const (
	// DefaultEntries is the default submission-queue depth for a Ring.
	DefaultEntries = 256

	// DefaultBacklogLimit caps the number of SQEs buffered in the
	// in-process backlog; once it is reached, Submit fails with a
	// queue-full error. Set equal to DefaultEntries, so with the default
	// ring depth a single Flush can drain a full backlog.
	DefaultBacklogLimit = DefaultEntries
)

// QueueFullRetryBackoff is a short interval for a caller to wait before
// retrying a Submit that failed with CodeQueueFull. Nothing in ringio uses
// it: the fs/net wrappers return CodeQueueFull to their caller without
// retrying.
const QueueFullRetryBackoff = 200 * time.Microsecond
