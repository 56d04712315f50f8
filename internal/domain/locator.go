package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// SupportedHosts lists the hosting services a RepositoryLocator may point at.
var SupportedHosts = []string{"github.com", "gitlab.com", "bitbucket.org"}

var (
	// https://github.com/owner/name(.git)(/)
	httpsLocatorPattern = regexp.MustCompile(`^https?://([^/@:]+)/([\w.\-]+)/([\w.\-]+?)(?:\.git)?/?$`)
	// git@github.com:owner/name(.git)
	scpLocatorPattern = regexp.MustCompile(`^git@([^/:]+):([\w.\-]+)/([\w.\-]+?)(?:\.git)?$`)
	// ssh://git@github.com/owner/name(.git)
	sshLocatorPattern = regexp.MustCompile(`^ssh://git@([^/:]+)(?::\d+)?/([\w.\-]+)/([\w.\-]+?)(?:\.git)?/?$`)
)

// RepositoryLocator identifies a hosted repository. The zero value is invalid.
// Two locators parsed from different spellings of the same repository compare equal.
type RepositoryLocator struct {
	Host  string
	Owner string
	Name  string
}

// ParseRepositoryLocator validates raw and normalizes it to a locator.
func ParseRepositoryLocator(raw string) (RepositoryLocator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepositoryLocator{}, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}

	var m []string
	for _, p := range []*regexp.Regexp{httpsLocatorPattern, scpLocatorPattern, sshLocatorPattern} {
		if m = p.FindStringSubmatch(raw); m != nil {
			break
		}
	}
	if m == nil {
		return RepositoryLocator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, raw)
	}

	host := strings.ToLower(m[1])
	if !isSupportedHost(host) {
		return RepositoryLocator{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidLocator, host)
	}

	owner, name := m[2], m[3]
	if owner == "." || owner == ".." || name == "" || name == "." || name == ".." {
		return RepositoryLocator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, raw)
	}

	return RepositoryLocator{Host: host, Owner: owner, Name: name}, nil
}

func isSupportedHost(host string) bool {
	for _, h := range SupportedHosts {
		if h == host {
			return true
		}
	}
	return false
}

// IsZero reports whether l is the zero locator.
func (l RepositoryLocator) IsZero() bool {
	return l == RepositoryLocator{}
}

// CloneURL returns the canonical https clone URL, always ending in ".git".
func (l RepositoryLocator) CloneURL() string {
	return fmt.Sprintf("https://%s/%s/%s.git", l.Host, l.Owner, l.Name)
}

// DisplayName returns "host/owner/name".
func (l RepositoryLocator) DisplayName() string {
	return l.Host + "/" + l.Owner + "/" + l.Name
}

func (l RepositoryLocator) String() string {
	return l.CloneURL()
}
