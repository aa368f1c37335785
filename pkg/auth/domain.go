package auth

import (
	"sort"
	"strings"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// DomainClass is the policy classification of an email domain.
type DomainClass string

const (
	// DomainDenied marks domains outside the whitelist. Identities from
	// denied domains are rejected before any local state is touched.
	DomainDenied DomainClass = "denied"

	// DomainConsumer marks whitelisted domains whose unknown users may
	// self-register on first verified external login.
	DomainConsumer DomainClass = "consumer"

	// DomainB2B marks whitelisted corporate domains whose users must be
	// provisioned out-of-band. Unknown B2B users are denied, never
	// auto-created.
	DomainB2B DomainClass = "b2b"
)

// DomainPolicy is the process-wide email-domain gate. It is built once at
// startup from two lists: the whitelist of authorized domains, and the
// subset of those that are strict B2B corporate domains. The policy is
// immutable after construction and safe for concurrent reads.
type DomainPolicy struct {
	whitelist map[string]struct{}
	b2b       map[string]struct{}
}

// NewDomainPolicy builds a DomainPolicy from the whitelist and B2B domain
// lists. Domains are lower-cased and deduplicated. Every B2B domain must
// also appear in the whitelist; a configuration violating this would leave
// a domain "B2B but never authorized" at runtime, so it is rejected here
// with a [gwerr.CodeInternalConfiguration] error.
func NewDomainPolicy(whitelist, b2bDomains []string) (*DomainPolicy, error) {
	if len(whitelist) == 0 {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration, "auth: domain whitelist must not be empty")
	}

	wl := make(map[string]struct{}, len(whitelist))
	for _, d := range whitelist {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, gwerr.New(gwerr.CodeInternalConfiguration, "auth: domain whitelist contains an empty entry")
		}
		wl[d] = struct{}{}
	}

	b2b := make(map[string]struct{}, len(b2bDomains))
	for _, d := range b2bDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, gwerr.New(gwerr.CodeInternalConfiguration, "auth: B2B domain list contains an empty entry")
		}
		if _, ok := wl[d]; !ok {
			return nil, gwerr.Newf(gwerr.CodeInternalConfiguration, "auth: B2B domain %q is not in the whitelist", d)
		}
		b2b[d] = struct{}{}
	}

	return &DomainPolicy{whitelist: wl, b2b: b2b}, nil
}

// Classify returns the policy class of the email's domain. Emails without
// a domain part classify as [DomainDenied].
func (p *DomainPolicy) Classify(email string) DomainClass {
	domain := EmailDomain(email)
	if domain == "" {
		return DomainDenied
	}
	if _, ok := p.whitelist[domain]; !ok {
		return DomainDenied
	}
	if _, ok := p.b2b[domain]; ok {
		return DomainB2B
	}
	return DomainConsumer
}

// Authorize returns nil when the email's domain is whitelisted, or a
// *[gwerr.Error] with code [gwerr.CodeAuthorizationDomain] when it is not.
// The error is a policy rejection distinct from a credential rejection: it
// maps to HTTP 403, not 401.
func (p *DomainPolicy) Authorize(email string) error {
	if p.Classify(email) == DomainDenied {
		return gwerr.Newf(gwerr.CodeAuthorizationDomain, "auth: email domain %q is not authorized", EmailDomain(email))
	}
	return nil
}

// IsB2B reports whether the email's domain is a strict B2B corporate
// domain.
func (p *DomainPolicy) IsB2B(email string) bool {
	return p.Classify(email) == DomainB2B
}

// Whitelist returns the sorted list of whitelisted domains, for logging
// and diagnostics.
func (p *DomainPolicy) Whitelist() []string {
	domains := make([]string, 0, len(p.whitelist))
	for d := range p.whitelist {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
