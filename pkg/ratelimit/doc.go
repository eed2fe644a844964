// Package ratelimit paces outgoing requests per host.
//
// HostLimiter keeps one golang.org/x/time/rate limiter per host with a
// burst of one, so the throttle interval is the minimum gap between two
// requests to that host:
//
//	limiter := ratelimit.NewHostLimiter()
//	if err := limiter.Wait(ctx, "cyberfile.is", time.Second); err != nil {
//	    return err
//	}
//	// Proceed with request
package ratelimit
