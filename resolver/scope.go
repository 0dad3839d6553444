package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

// Scope is the storage-account/container pair an access token is valid for.
// It is derived from a locator of the form https://{account}.{domain}/{container}/{blob...}
type Scope struct {
	Account   string
	Container string
}

func (s Scope) String() string {
	return s.Account + "/" + s.Container
}

// ParseScope extracts the signing scope from an asset locator.
// Locators whose scope cannot be determined are data-quality errors: the caller
// is expected to skip them with a warning, not to abort the batch.
func ParseScope(rawurl string) (Scope, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return Scope{}, fmt.Errorf("ParseScope[%s]: %w", rawurl, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Scope{}, fmt.Errorf("ParseScope[%s]: scheme %q is not a signable storage locator", rawurl, u.Scheme)
	}
	account, _, found := strings.Cut(u.Hostname(), ".")
	if !found || account == "" {
		return Scope{}, fmt.Errorf("ParseScope[%s]: no storage account in host %q", rawurl, u.Host)
	}
	container, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if container == "" {
		return Scope{}, fmt.Errorf("ParseScope[%s]: no container in path %q", rawurl, u.Path)
	}
	return Scope{Account: account, Container: container}, nil
}

// Signable returns whether the locator points into token-protected storage
func Signable(rawurl string) bool {
	u, err := url.Parse(rawurl)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
