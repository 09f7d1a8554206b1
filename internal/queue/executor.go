package queue

import (
	"context"
	"time"
)

// Executor is the narrow external-collaborator interface the runner invokes
// to actually run a validated read-only query and stream its result set to
// the object store (§6.2). The core never inspects query_sql beyond
// admission (§4.2); everything past that boundary belongs to the executor.
type Executor interface {
	// ExecuteReadonlyToBlob runs querySQL as read-only and streams the
	// result set to (account, container, blobPath) in the executor's
	// chosen columnar format. It must honor deadline by aborting and
	// returning a non-nil error once it expires. Empty result sets are a
	// valid success (§6.2) — whether a zero-row blob physically exists is
	// implementation-defined by the executor.
	ExecuteReadonlyToBlob(ctx context.Context, querySQL, account, container, blobPath string, deadline time.Duration) error
}
