// Package retry provides retry loops for transient failures.
//
// Policy is the per-link retry used by the downloader: it counts attempts
// against the link's original URL in an AttemptTracker, rewrites the target
// between attempts (mirror substitution) and waits a constant delay.
//
//	policy := retry.NewPolicy(cfg.Download.MaxAttempts, cfg.Download.UnlimitedAttempts,
//		retry.DefaultRetryDelay, mirrors.Apply, log)
//	err := policy.Run(ctx, link.URL, func(ctx context.Context, target *url.URL) error {
//		return fetch(ctx, target)
//	})
//
// Do is a plain attempt-count loop with pluggable backoff, used for
// infrastructure calls such as connecting to the ledger database.
//
// Only recoverable faults are retried. Permanent and skip faults, and
// context cancellation, end the loop immediately.
package retry
