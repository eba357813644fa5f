package models

import (
	"crypto/sha1"
	"fmt"
	"net/url"
	"strings"
)

// Query parameters that identify the click, not the content.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"igshid":   true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"ref_src":  true,
	"source":   true,
	"spm":      true,
	"yclid":    true,
	"_hsenc":   true,
	"_hsmi":    true,
	"cmpid":    true,
	"icid":     true,
	"ncid":     true,
	"sr_share": true,
}

func isTrackingParam(key string) bool {
	return trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_")
}

// DedupKey derives the deterministic fingerprint for an entry, scoped
// per feed by the store's unique (feed_id, dedup_key) index. The key is
// the normalized source URL; entries without a usable URL fall back to
// a content digest.
func DedupKey(rawURL, title, content string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return DigestContent(title + "\n" + content)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return DigestContent(title + "\n" + content)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	// Encode sorts keys, so equivalent URLs with reordered parameters
	// normalize identically.
	u.RawQuery = q.Encode()

	return u.String()
}

func DigestContent(content string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(content)))
}
