// Package triage is the core of Sift's fraud-alert investigation. It defines
// the Service (validation, rate limiting, dedup, async dispatch), the Engine
// (fixed-plan pipeline with per-step deadlines, circuit breakers and
// deterministic fallbacks), the step agents, decision composition, and the
// per-run event stream.
package triage
