// Package cfg holds sift's application-level configuration. Server,
// logging, ops, and tracing options live in their own go-core packages;
// this covers the triage pipeline, stores, and auth.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds sift-specific configuration fields to the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	AgentToken string
	LeadToken  string

	DatabaseURL     string
	RedisURL        string
	SlackWebhookURL string
	ClaudeAPIKey    string
	ClaudeModel     string

	RateLimitWindowMS    int
	RateLimitMaxRequests int
	AgentTimeoutMS       int
	RunTimeoutMS         int
	CircuitFailThreshold int
	CircuitResetMS       int
	OTPTTLMS             int
	IdempotencyTTLMS     int
	StreamHeartbeatMS    int
	BusinessHoursTZ      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.AgentToken, "agent-token", "", "bearer token granting the agent role")
	fs.StringVar(&c.LeadToken, "lead-token", "", "bearer token granting the lead role")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for rate limits, OTP, and idempotency (empty = in-memory)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for decision notifications")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key for customer-message generation (empty = templates only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model for customer-message generation")
	fs.IntVar(&c.RateLimitWindowMS, "rate-limit-window-ms", 60000, "rate limit window in milliseconds")
	fs.IntVar(&c.RateLimitMaxRequests, "rate-limit-max-requests", 300, "max requests per client per window")
	fs.IntVar(&c.AgentTimeoutMS, "agent-timeout-ms", 1000, "per-step deadline in milliseconds")
	fs.IntVar(&c.RunTimeoutMS, "run-timeout-ms", 5000, "whole-run budget in milliseconds")
	fs.IntVar(&c.CircuitFailThreshold, "circuit-fail-threshold", 3, "consecutive step failures that open the circuit")
	fs.IntVar(&c.CircuitResetMS, "circuit-reset-ms", 30000, "open-circuit reset window in milliseconds")
	fs.IntVar(&c.OTPTTLMS, "otp-ttl-ms", 300000, "OTP challenge time-to-live in milliseconds")
	fs.IntVar(&c.IdempotencyTTLMS, "idempotency-ttl-ms", 3600000, "idempotency record time-to-live in milliseconds")
	fs.IntVar(&c.StreamHeartbeatMS, "stream-heartbeat-ms", 15000, "SSE heartbeat interval in milliseconds")
	fs.StringVar(&c.BusinessHoursTZ, "business-hours-tz", "UTC", "IANA timezone for the business-hours policy check")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Both roles need a token, and they must differ or role resolution is
	// ambiguous.
	if c.AgentToken == "" {
		errs = append(errs, errors.New("AGENT_TOKEN is required"))
	}
	if c.LeadToken == "" {
		errs = append(errs, errors.New("LEAD_TOKEN is required"))
	}
	if c.AgentToken != "" && c.AgentToken == c.LeadToken {
		errs = append(errs, errors.New("AGENT_TOKEN and LEAD_TOKEN must differ"))
	}

	if c.RateLimitWindowMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS %d (must be positive)", c.RateLimitWindowMS))
	}
	if c.RateLimitMaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX_REQUESTS %d (must be positive)", c.RateLimitMaxRequests))
	}
	if c.AgentTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid AGENT_TIMEOUT_MS %d (must be positive)", c.AgentTimeoutMS))
	}
	if c.RunTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid RUN_TIMEOUT_MS %d (must be positive)", c.RunTimeoutMS))
	}
	if c.AgentTimeoutMS > 0 && c.RunTimeoutMS > 0 && c.RunTimeoutMS <= c.AgentTimeoutMS {
		errs = append(errs, fmt.Errorf("RUN_TIMEOUT_MS %d must be greater than AGENT_TIMEOUT_MS %d", c.RunTimeoutMS, c.AgentTimeoutMS))
	}
	if c.CircuitFailThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid CIRCUIT_FAIL_THRESHOLD %d (must be positive)", c.CircuitFailThreshold))
	}
	if c.CircuitResetMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid CIRCUIT_RESET_MS %d (must be positive)", c.CircuitResetMS))
	}
	if c.OTPTTLMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid OTP_TTL_MS %d (must be positive)", c.OTPTTLMS))
	}
	if c.IdempotencyTTLMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid IDEMPOTENCY_TTL_MS %d (must be positive)", c.IdempotencyTTLMS))
	}
	if c.StreamHeartbeatMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid STREAM_HEARTBEAT_MS %d (must be positive)", c.StreamHeartbeatMS))
	}
	if _, err := time.LoadLocation(c.BusinessHoursTZ); err != nil {
		errs = append(errs, fmt.Errorf("invalid BUSINESS_HOURS_TZ %q: %w", c.BusinessHoursTZ, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration accessors keep millisecond-to-Duration conversion out of main.

func (c *Config) RateLimitWindow() time.Duration { return time.Duration(c.RateLimitWindowMS) * time.Millisecond }
func (c *Config) AgentTimeout() time.Duration    { return time.Duration(c.AgentTimeoutMS) * time.Millisecond }
func (c *Config) RunTimeout() time.Duration      { return time.Duration(c.RunTimeoutMS) * time.Millisecond }
func (c *Config) CircuitReset() time.Duration    { return time.Duration(c.CircuitResetMS) * time.Millisecond }
func (c *Config) OTPTTL() time.Duration          { return time.Duration(c.OTPTTLMS) * time.Millisecond }
func (c *Config) IdempotencyTTL() time.Duration  { return time.Duration(c.IdempotencyTTLMS) * time.Millisecond }
func (c *Config) StreamHeartbeat() time.Duration { return time.Duration(c.StreamHeartbeatMS) * time.Millisecond }
