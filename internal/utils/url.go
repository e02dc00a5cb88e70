package utils

import (
	"hash/fnv"
	"net/url"
	"strings"
)

// HashURL computes the 63-bit hash stored in the places table's url_hash
// column and exposed to SQL as the url_hash(...) scalar function. Lookups by
// URL always filter on the hash first so the column's index is used.
func HashURL(rawURL string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rawURL))
	return int64(h.Sum64() >> 1)
}

// ReverseHost returns the host of rawURL reversed character-wise with a
// trailing period, e.g. "https://example.com/a" -> "moc.elpmaxe.". This is
// the rev_host form used for suffix lookups; exposed to SQL as
// reverse_host(...).
func ReverseHost(host string) string {
	runes := []rune(strings.ToLower(host))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes) + "."
}

// StripPrefixAndUserinfo removes the scheme and userinfo from rawURL,
// returning host + path + query + fragment. Malformed URLs are returned
// unchanged; exposed to SQL as strip_prefix_and_userinfo(...).
func StripPrefixAndUserinfo(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	var b strings.Builder
	b.WriteString(parsed.Host)
	b.WriteString(parsed.Path)
	if parsed.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(parsed.RawQuery)
	}
	if parsed.Fragment != "" {
		b.WriteString("#")
		b.WriteString(parsed.Fragment)
	}

	return b.String()
}
