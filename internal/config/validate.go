package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	// Source
	requireURL(verr, "source.instance_url", c.Source.InstanceURL)
	requireSecret(verr, "source.api_key", c.Source.APIKey)
	requireSecret(verr, "source.api_secret", c.Source.APISecret)
	if c.Source.BatchSize <= 0 {
		verr.add("source.batch_size must be positive, got %d", c.Source.BatchSize)
	}
	if c.Source.MaxRecords <= 0 {
		verr.add("source.max_records must be positive, got %d", c.Source.MaxRecords)
	}
	if c.Source.MaxPages < 0 {
		verr.add("source.max_pages must not be negative, got %d", c.Source.MaxPages)
	}
	if c.Source.RequestTimeout <= 0 {
		verr.add("source.request_timeout must be positive")
	}

	// Destination
	switch {
	case c.Destination.URL != "":
		requireURL(verr, "destination.url", c.Destination.URL)
	case c.Destination.CloudID != "":
		rejectPlaceholder(verr, "destination.cloud_id", c.Destination.CloudID)
	default:
		verr.add("destination.url or destination.cloud_id is required")
	}
	switch {
	case c.Destination.APIKey != "":
		rejectPlaceholder(verr, "destination.api_key", c.Destination.APIKey)
	case c.Destination.Username != "":
		requireSecret(verr, "destination.password", c.Destination.Password)
	default:
		verr.add("destination.api_key or destination.username is required")
	}
	if strings.TrimSpace(c.Destination.IndexName) == "" {
		verr.add("destination.index_name is required")
	}
	if c.Destination.BulkChunkSize <= 0 {
		verr.add("destination.bulk_chunk_size must be positive, got %d", c.Destination.BulkChunkSize)
	}
	if c.Destination.RequestTimeout <= 0 {
		verr.add("destination.request_timeout must be positive")
	}

	// Ambient
	switch c.Logging.Format {
	case "json", "text":
	default:
		verr.add("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch c.DLQ.Backend {
	case "", "none":
	case "file":
		if c.DLQ.Path == "" {
			verr.add("dlq.path is required for the file backend")
		}
	case "nats":
		if c.Messaging.URL == "" {
			verr.add("messaging.url is required for the nats dlq backend")
		}
	default:
		verr.add("dlq.backend must be none, file or nats, got %q", c.DLQ.Backend)
	}
	if c.History.DatabaseURL != "" {
		requireURL(verr, "history.database_url", c.History.DatabaseURL)
	}
	if c.Lock.Enabled {
		if c.Lock.RedisURL == "" {
			verr.add("lock.redis_url is required when the lock is enabled")
		}
		if c.Lock.TTL <= 0 {
			verr.add("lock.ttl must be positive")
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func requireURL(verr *ValidationError, key, value string) {
	if value == "" {
		verr.add("%s is required", key)
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		verr.add("%s must be an absolute URL, got %q", key, value)
	}
}

func requireSecret(verr *ValidationError, key, value string) {
	if strings.TrimSpace(value) == "" {
		verr.add("%s is required", key)
		return
	}
	rejectPlaceholder(verr, key, value)
}

func rejectPlaceholder(verr *ValidationError, key, value string) {
	if strings.TrimSpace(value) == Placeholder {
		verr.add("%s is still set to the %s placeholder", key, Placeholder)
	}
}

const redacted = "********"

// Redacted returns a copy safe to print: every secret is masked.
func (c *Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}

	out := *c
	out.Source.APIKey = mask(c.Source.APIKey)
	out.Source.APISecret = mask(c.Source.APISecret)
	out.Destination.APIKey = mask(c.Destination.APIKey)
	out.Destination.Password = mask(c.Destination.Password)
	out.Messaging.Token = mask(c.Messaging.Token)
	out.Lock.RedisURL = maskURLPassword(c.Lock.RedisURL)
	out.History.DatabaseURL = maskURLPassword(c.History.DatabaseURL)
	return out
}

func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), redacted)
	return u.String()
}
