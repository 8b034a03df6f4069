// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import "strings"

// maxFlaggedURLs caps the example list carried in the metrics blob.
const maxFlaggedURLs = 20

// ExtractDomain returns the lowercased host portion of a URL: scheme
// and path are stripped, nothing else.
func ExtractDomain(url string) string {
	domain := strings.ToLower(strings.TrimSpace(url))
	if idx := strings.Index(domain, "://"); idx >= 0 {
		domain = domain[idx+3:]
	}
	if idx := strings.IndexByte(domain, '/'); idx >= 0 {
		domain = domain[:idx]
	}
	return domain
}

// DomainAllowed reports whether domain matches a whitelist entry by
// exact match or literal subdomain match (domain == entry, or domain
// ends with "."+entry). Plain substring containment is deliberately
// not a match: "fake-brand.com.evil.tld" must not pass for
// "brand.com".
func DomainAllowed(domain string, whitelist []string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, entry := range whitelist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}
