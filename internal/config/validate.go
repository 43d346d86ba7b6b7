package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"useradmin/internal/logging"
	"useradmin/pkg/signature"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs errList

	if err := validateListenAddr(c.Server.Listen); err != nil {
		errs.add("server.listen", err)
	}
	for i, origin := range c.Server.CORSOrigins {
		if err := validateOrigin(origin); err != nil {
			errs.add(fmt.Sprintf("server.cors_origins[%d]", i), err)
		}
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs.add("server.request_timeout", fmt.Errorf("must be positive, got %s", c.Server.RequestTimeout))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs.add("server.shutdown_timeout", fmt.Errorf("must be positive, got %s", c.Server.ShutdownTimeout))
	}
	if c.Server.VerifyConcurrency < 1 {
		errs.add("server.verify_concurrency", fmt.Errorf("must be at least 1, got %d", c.Server.VerifyConcurrency))
	}
	if c.Server.WriteRateLimit < 0 {
		errs.add("server.write_rate_limit", fmt.Errorf("must not be negative, got %g", c.Server.WriteRateLimit))
	}
	if strings.TrimSpace(c.Keys.Dir) == "" {
		errs.add("keys.dir", fmt.Errorf("must not be empty"))
	}
	if _, err := signature.SchemeByName(c.Keys.Scheme); err != nil {
		errs.add("keys.scheme", err)
	}
	if err := validateLogLevel(c.Logging.Level); err != nil {
		errs.add("logging.level", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs.add("logging.format", fmt.Errorf("must be text or json, got %q", c.Logging.Format))
	}

	return errs.err()
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("must not be empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("host must not be empty in %q", addr)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty in %q", addr)
	}
	return nil
}

// validateOrigin accepts "*" or a scheme://host[:port] origin.
func validateOrigin(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must look like scheme://host", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("origin %q must not carry a path", origin)
	}
	return nil
}

func validateLogLevel(level string) error {
	_, err := logging.ParseLevel(level)
	return err
}
