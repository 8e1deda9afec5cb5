package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError is one invalid config value. Field is the dotted key,
// e.g. "dispatch.max_parallel".
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is what Load returns when Validate finds anything.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

// ValidLogLevels lists the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTiers lists the checkpoint tier names in default fallback order.
func ValidTiers() []string {
	return []string{TierRedis, TierPostgres, TierSQLite, TierMemory}
}

// checks accumulates validation failures for one Validate call.
type checks []ValidationError

func (c *checks) fail(field string, value any, message string) {
	*c = append(*c, ValidationError{Field: field, Value: value, Message: message})
}

func (c *checks) positive(field string, v int) {
	if v <= 0 {
		c.fail(field, v, "must be positive")
	}
}

func (c *checks) nonNegative(field string, v int) {
	if v < 0 {
		c.fail(field, v, "must be non-negative")
	}
}

func (c *checks) oneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		c.fail(field, value, "must be one of: "+strings.Join(allowed, ", "))
	}
}

// Validate returns every invalid value in c, in section order.
func (c *Config) Validate() []ValidationError {
	var v checks
	c.validateServer(&v)
	c.validateDispatch(&v)
	c.validateStream(&v)
	c.validateCheckpoint(&v)
	c.validateLLM(&v)
	c.validateLogging(&v)
	return v
}

func (c *Config) validateServer(v *checks) {
	if strings.TrimSpace(c.Server.Addr) == "" {
		v.fail("server.addr", c.Server.Addr, "must not be empty")
	}
	v.nonNegative("server.read_header_timeout_seconds", c.Server.ReadHeaderTimeoutSeconds)
}

const maxRetries = 10

func (c *Config) validateDispatch(v *checks) {
	d := c.Dispatch
	v.positive("dispatch.worker_timeout_seconds", d.WorkerTimeoutSeconds)
	if d.MaxParallel < 0 {
		v.fail("dispatch.max_parallel", d.MaxParallel, "must be non-negative (0 = unlimited)")
	}
	if d.MaxRetries < 0 || d.MaxRetries > maxRetries {
		v.fail("dispatch.max_retries", d.MaxRetries, fmt.Sprintf("must be between 0 and %d", maxRetries))
	}
	v.nonNegative("dispatch.retry_base_delay_ms", d.RetryBaseDelayMs)
	if d.RetryMaxDelayMs < d.RetryBaseDelayMs {
		v.fail("dispatch.retry_max_delay_ms", d.RetryMaxDelayMs, "must be at least retry_base_delay_ms")
	}
}

func (c *Config) validateStream(v *checks) {
	s := c.Stream
	v.positive("stream.queue_capacity", s.QueueCapacity)
	v.positive("stream.chunk_size", s.ChunkSize)
	v.nonNegative("stream.chunk_delay_ms", s.ChunkDelayMs)
	v.positive("stream.consume_timeout_ms", s.ConsumeTimeoutMs)
}

func (c *Config) validateCheckpoint(v *checks) {
	cp := c.Checkpoint
	if len(cp.Tiers) == 0 {
		v.fail("checkpoint.tiers", cp.Tiers, "must list at least one tier")
	}
	for i, tier := range cp.Tiers {
		if !slices.Contains(ValidTiers(), tier) {
			v.oneOf("checkpoint.tiers", tier, ValidTiers())
		} else if slices.Contains(cp.Tiers[:i], tier) {
			v.fail("checkpoint.tiers", tier, "listed more than once")
		}
	}
	v.nonNegative("checkpoint.redis_db", cp.RedisDB)
}

func (c *Config) validateLLM(v *checks) {
	if c.LLM.BaseURL != "" {
		u, err := url.Parse(c.LLM.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.fail("llm.base_url", c.LLM.BaseURL, "must be an absolute http(s) URL")
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		v.fail("llm.temperature", c.LLM.Temperature, "must be between 0 and 2")
	}
	v.nonNegative("llm.timeout_seconds", c.LLM.TimeoutSeconds)
}

func (c *Config) validateLogging(v *checks) {
	if c.Logging.Level != "" {
		v.oneOf("logging.level", strings.ToLower(c.Logging.Level), ValidLogLevels())
	}
	if c.Logging.MaxSizeMB < 0 {
		v.fail("logging.max_size_mb", c.Logging.MaxSizeMB, "must be non-negative (0 disables rotation)")
	}
	v.nonNegative("logging.max_backups", c.Logging.MaxBackups)
}
