package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// separators used when joining hash inputs
const (
	fieldSeparator  = "|"
	memberSeparator = "||"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{32,}$`)
)

// BaseHash identifies a client by the combination of its address and user agent.
// Two requests share a base hash only if both fields match after trimming
// whitespace and lowercasing.
func BaseHash(address string, userAgent string) string {
	return hashHex(normalizeField(address) + fieldSeparator + normalizeField(userAgent))
}

// BehaviorHash identifies the shape of a single request: the normalized path,
// the method and the response status code.
func BehaviorHash(path string, method string, statusCode int) string {
	return hashHex(normalizeField(NormalizePath(path)) + fieldSeparator + normalizeField(method) + fieldSeparator + strconv.Itoa(statusCode))
}

// IdentityHash derives a stable identity for a chain from its member base hashes.
// Members are sorted before hashing so that insertion order does not change the result.
func IdentityHash(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	return hashHex(strings.Join(sorted, memberSeparator))
}

// NormalizePath strips the query string and any trailing slashes from a request path
func NormalizePath(path string) string {
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	return strings.TrimRight(path, "/")
}

// PathPattern generalizes a request path by masking segments that carry record
// identifiers, so that /users/123 and /users/456 map to the same pattern.
// Numeric segments become {id}, UUIDs become {uuid} and long hex strings
// (32 or more characters) become {hash}.
func PathPattern(path string) string {
	path = NormalizePath(path)

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		switch {
		case segment == "":
		case uuidSegment.MatchString(segment):
			segments[i] = "{uuid}"
		case hexSegment.MatchString(segment):
			segments[i] = "{hash}"
		case numericSegment.MatchString(segment):
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func normalizeField(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func hashHex(input string) string {
	digest := sha256.Sum256([]byte(input))
	return hex.EncodeToString(digest[:])
}
