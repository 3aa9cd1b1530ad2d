// Package resilience provides the circuit breaker that guards calls into
// remote upstreams.
//
// A breaker is scoped to one upstream identity (one provider). It tracks
// consecutive failures and opens after a threshold, fast-failing callers
// with a typed error carrying the remaining cooldown. State is recomputed
// lazily from recorded outcomes and elapsed time whenever it is queried or
// exercised; there are no background timers, which keeps the breaker safe
// across process restarts.
package resilience
