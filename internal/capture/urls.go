package capture

import (
	"net/url"
	"strings"
)

// isTargetSite reporta se a URL pertence ao domínio alvo (host exato ou
// subdomínio).
func isTargetSite(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// isLoginPath covers the unauthenticated entry pages. The site keeps moving
// its post-login paths around, so the authenticated predicate is "target site
// and NOT one of these" rather than an allowlist.
func isLoginPath(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "/login") ||
		strings.Contains(lower, "/register") ||
		strings.Contains(lower, "/oauth2")
}

// isAuthenticatedArea é o predicado de área autenticada do alvo.
func isAuthenticatedArea(rawURL, domain string) bool {
	return isTargetSite(rawURL, domain) && !isLoginPath(rawURL) && !isFailurePath(rawURL)
}

// isFailurePath detecta os estados de erro observados: confirmação de logout,
// 404 e páginas de erro genéricas.
func isFailurePath(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "logout") ||
		strings.Contains(lower, "404") ||
		strings.Contains(lower, "error")
}
