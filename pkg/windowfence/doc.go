// Package windowfence provides per-identity fixed-window request throttling.
//
// A Throttle admits at most a fixed quota of requests per identity within each
// fixed-length window. Every call to Check counts the request, admitted or not,
// and returns a Decision carrying whether it was admitted, how many admissions
// remain, and when the current window ends.
//
// # Quick Start
//
//	throttle, err := windowfence.NewThrottle(3, time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision := throttle.Check("user-123")
//	if !decision.Allowed {
//	    fmt.Printf("Rate limited. Retry after %v\n", decision.RetryAfter(time.Now()))
//	}
//
// # Fixed Window Semantics
//
// An identity's window starts at its first request. A window ends once more than
// the window size has elapsed since it started; the next request then opens a new
// window at that instant with a fresh count. A request arriving at exactly
// start+window still belongs to the old window.
//
// Denied requests are counted too, so a caller that keeps retrying past the quota
// keeps seeing Remaining == 0 and an unchanged ResetAt until the window rolls over.
//
// # Configuration
//
// Load configuration from YAML file:
//
//	config, err := windowfence.LoadConfigFromFile("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	throttle, err := config.NewThrottle()
//
// Example YAML configuration:
//
//	quota: 3
//	window: "60s"
//	idle_ttl: "1h"
//	cleanup_interval: "10m"
//	key_extractor: "ip-proxy"
//
// # Concurrency
//
// All operations are thread-safe:
//   - Uses sync.RWMutex for the identity map
//   - Uses sync.Mutex for each identity's counters
//   - Requests for one identity are linearized; no two callers can both take the last slot
//   - Requests for different identities never wait on each other's counters
//
// # Idle Identities
//
// Identities are kept until Reset, ResetAll, or cleanup. Cleanup evicts an identity
// only when its window has expired and it has been idle longer than the idle TTL,
// so eviction never changes a decision. Call StartBackgroundCleanup to run it
// periodically.
//
// # Testing
//
// Inject a ManualClock with WithClock to control time without sleeping:
//
//	clock := windowfence.NewManualClock(time.Unix(0, 0))
//	throttle, _ := windowfence.NewThrottle(3, time.Minute, windowfence.WithClock(clock))
//	clock.Advance(61 * time.Second)
package windowfence
