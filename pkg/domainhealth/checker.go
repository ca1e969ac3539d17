// Package domainhealth answers whether a domain can receive mail at all,
// and whether it is a catch-all (accepting any address, which makes positive
// validation results uninformative).
package domainhealth

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// Health is the result of a domain check.
type Health struct {
	MXOK     bool `json:"mx_ok"`
	CatchAll bool `json:"catch_all"`
}

// Checker reports mail-domain health.
type Checker interface {
	Check(ctx context.Context, domain string) (*Health, error)
}

// DNSChecker resolves MX records directly. Catch-all detection is not
// possible from DNS alone; it is inferred later from accept_all oracle
// statuses during validation.
type DNSChecker struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewDNSChecker creates a Checker using the default system resolver.
func NewDNSChecker() *DNSChecker {
	return &DNSChecker{
		resolver: net.DefaultResolver,
		timeout:  5 * time.Second,
	}
}

// Check looks up MX records for the domain. DNS errors other than
// "not found" are reported as lookup failures, not as missing MX.
func (c *DNSChecker) Check(ctx context.Context, domain string) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return &Health{MXOK: false}, nil
		}
		zap.L().Warn("domainhealth: mx lookup failed",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return nil, err
	}

	return &Health{MXOK: len(records) > 0}, nil
}
