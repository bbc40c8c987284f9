// Package errors provides standardized error handling for the pump telemetry service.
//
// # Overview
//
// Errors fall into three classes: Transient (the link or a collaborator is
// temporarily unavailable, the caller may try again), Invalid (the input is
// malformed and retrying will not help) and Fatal (configuration problems that
// must stop start-up). Nothing past start-up is fatal; the dispatcher reports
// and continues.
//
// # Mapping
//
//   - Transport failures (connect refused, unexpected close, publish error): Transient
//   - Malformed inbound JSON, nested level_data failures, unknown control values: Invalid
//   - Chunks arriving outside an active stream: Invalid (ErrProtocolViolation)
//   - Gate rejections: ErrNotConnected and ErrCooldown are Transient, ErrInvalidRequest is Invalid
//   - Configuration errors: Fatal
//
// # Wrapping Pattern
//
// All wrapping follows "component.method: action failed: %w":
//
//	if err := t.Publish(ctx, topic, payload); err != nil {
//	    return errors.WrapTransient(err, "Gate", "Send", "publish request")
//	}
//
// Classification survives wrapping, so callers can branch with IsTransient,
// IsInvalid and IsFatal, or use Reason for metric labels and API error codes.
//
// # Retry Integration
//
// RetryConfig converts into pkg/retry's Config through ToRetryConfig and decides
// per error with ShouldRetry. The archive client uses it for transient HTTP failures.
package errors
