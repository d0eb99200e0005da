package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	_ = fs.Parse(nil)
	c.AgentToken = "agent-token-123"
	c.LeadToken = "lead-token-456"
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.RateLimitWindowMS != 60000 {
		t.Errorf("RateLimitWindowMS = %d, want 60000", c.RateLimitWindowMS)
	}
	if c.RateLimitMaxRequests != 300 {
		t.Errorf("RateLimitMaxRequests = %d, want 300", c.RateLimitMaxRequests)
	}
	if c.AgentTimeoutMS != 1000 {
		t.Errorf("AgentTimeoutMS = %d, want 1000", c.AgentTimeoutMS)
	}
	if c.RunTimeoutMS != 5000 {
		t.Errorf("RunTimeoutMS = %d, want 5000", c.RunTimeoutMS)
	}
	if c.CircuitFailThreshold != 3 {
		t.Errorf("CircuitFailThreshold = %d, want 3", c.CircuitFailThreshold)
	}
	if c.CircuitResetMS != 30000 {
		t.Errorf("CircuitResetMS = %d, want 30000", c.CircuitResetMS)
	}
	if c.OTPTTLMS != 300000 {
		t.Errorf("OTPTTLMS = %d, want 300000", c.OTPTTLMS)
	}
	if c.IdempotencyTTLMS != 3600000 {
		t.Errorf("IdempotencyTTLMS = %d, want 3600000", c.IdempotencyTTLMS)
	}
	if c.BusinessHoursTZ != "UTC" {
		t.Errorf("BusinessHoursTZ = %q, want UTC", c.BusinessHoursTZ)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-http-port", "9090",
		"-agent-token", "a",
		"-lead-token", "l",
		"-run-timeout-ms", "8000",
		"-business-hours-tz", "America/New_York",
		"-redis-url", "redis://localhost:6379",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.RunTimeoutMS != 8000 {
		t.Errorf("RunTimeoutMS = %d, want 8000", c.RunTimeoutMS)
	}
	if c.BusinessHoursTZ != "America/New_York" {
		t.Errorf("BusinessHoursTZ = %q", c.BusinessHoursTZ)
	}
	if c.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q", c.RedisURL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults with tokens are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget not greater than drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "missing agent token",
			mutate:    func(c *Config) { c.AgentToken = "" },
			wantErr:   true,
			errSubstr: []string{"AGENT_TOKEN"},
		},
		{
			name:      "missing lead token",
			mutate:    func(c *Config) { c.LeadToken = "" },
			wantErr:   true,
			errSubstr: []string{"LEAD_TOKEN"},
		},
		{
			name:      "identical tokens",
			mutate:    func(c *Config) { c.LeadToken = c.AgentToken },
			wantErr:   true,
			errSubstr: []string{"must differ"},
		},
		{
			name:      "run budget not greater than step deadline",
			mutate:    func(c *Config) { c.RunTimeoutMS = c.AgentTimeoutMS },
			wantErr:   true,
			errSubstr: []string{"RUN_TIMEOUT_MS"},
		},
		{
			name:      "negative circuit threshold",
			mutate:    func(c *Config) { c.CircuitFailThreshold = -1 },
			wantErr:   true,
			errSubstr: []string{"CIRCUIT_FAIL_THRESHOLD"},
		},
		{
			name:      "zero otp ttl",
			mutate:    func(c *Config) { c.OTPTTLMS = 0 },
			wantErr:   true,
			errSubstr: []string{"OTP_TTL_MS"},
		},
		{
			name:      "bogus timezone",
			mutate:    func(c *Config) { c.BusinessHoursTZ = "Mars/Olympus" },
			wantErr:   true,
			errSubstr: []string{"BUSINESS_HOURS_TZ"},
		},
		{
			name: "all timing fields invalid accumulate",
			mutate: func(c *Config) {
				c.RateLimitWindowMS = 0
				c.AgentTimeoutMS = 0
				c.RunTimeoutMS = 0
				c.CircuitResetMS = 0
				c.IdempotencyTTLMS = 0
			},
			wantErr: true,
			errSubstr: []string{
				"RATE_LIMIT_WINDOW_MS", "AGENT_TIMEOUT_MS", "RUN_TIMEOUT_MS",
				"CIRCUIT_RESET_MS", "IDEMPOTENCY_TTL_MS",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	c := validBase()
	if c.RateLimitWindow() != time.Minute {
		t.Errorf("RateLimitWindow = %v, want 1m", c.RateLimitWindow())
	}
	if c.AgentTimeout() != time.Second {
		t.Errorf("AgentTimeout = %v, want 1s", c.AgentTimeout())
	}
	if c.RunTimeout() != 5*time.Second {
		t.Errorf("RunTimeout = %v, want 5s", c.RunTimeout())
	}
	if c.OTPTTL() != 5*time.Minute {
		t.Errorf("OTPTTL = %v, want 5m", c.OTPTTL())
	}
	if c.IdempotencyTTL() != time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 1h", c.IdempotencyTTL())
	}
}
