// Package retry provides simple exponential backoff retry logic for transient failures.
//
// The device link never uses this package: transports carry their own
// reconnect policy and the session only reacts to their events. Retry is for
// plain request/response collaborators such as the archive endpoint.
//
// Basic use:
//
//	docs, err := retry.DoWithResult(ctx, retry.ForHTTP(), func() ([]Folder, error) {
//	    return c.listOnce(ctx)
//	})
//
// Errors wrapped with NonRetryable, or rejected by Config.RetryIf, stop the
// loop immediately and are returned unchanged.
package retry
