package cache

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Namespace prefixes every key written by this application so that a shared
// Redis instance can be swept per deployment.
const Namespace = "keystone"

// Entity kinds used as the second key segment. List kinds are separate from
// item kinds so collection caches can be invalidated without touching items.
const (
	KindUser      = "user"
	KindUserList  = "users"
	KindRole      = "role"
	KindRoleList  = "roles"
	KindAudit     = "audit"
	KindAuditList = "audits"
	KindSession   = "session"
	KindSystem    = "system"
)

const maxComponentLen = 100

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9:_.\-]`)
var underscoreRuns = regexp.MustCompile(`_+`)

// BuildKey composes a cache key as namespace:kind:part:part... Every part is
// sanitized; empty parts are skipped.
func BuildKey(kind string, parts ...string) string {
	segments := make([]string, 0, len(parts)+2)
	segments = append(segments, Namespace, sanitizeComponent(kind))
	for _, p := range parts {
		if p == "" {
			continue
		}
		segments = append(segments, sanitizeComponent(p))
	}
	return strings.Join(segments, ":")
}

// BuildFilterKey appends a deterministic hash of the filter set to the key so
// every filter combination caches under its own entry while staying inside the
// kind's invalidation prefix. A nil or empty filter adds nothing.
func BuildFilterKey(kind string, filter map[string]any, parts ...string) string {
	key := BuildKey(kind, parts...)
	if len(filter) == 0 {
		return key
	}
	return key + ":f:" + HashFilter(filter)
}

// InvalidationPattern returns the glob matching every key ever built for the
// given entity kind, including all filter variants.
func InvalidationPattern(kind string) string {
	return Namespace + ":" + sanitizeComponent(kind) + ":*"
}

// HashFilter hashes a filter map independent of field insertion order.
// encoding/json marshals map keys in sorted order, which gives us the
// canonical form for free.
func HashFilter(filter map[string]any) string {
	raw, err := json.Marshal(filter)
	if err != nil {
		// Map of printable filter values should never fail to marshal; fall
		// back to the length so the key stays deterministic.
		raw = []byte(strconv.Itoa(len(filter)))
	}
	return hashString(string(raw))
}

// hashString is a 32-bit rolling hash rendered in base 36. Collision
// resistance is operational, not cryptographic: a collision only causes an
// unexpected cache hit within the same entity kind and TTL window.
func hashString(s string) string {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + c
	}
	if h < 0 {
		h = -h
	}
	return strconv.FormatInt(int64(h), 36)
}

func sanitizeComponent(s string) string {
	s = strings.ToLower(s)
	s = unsafeKeyChars.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	if len(s) > maxComponentLen {
		s = s[:maxComponentLen]
	}
	return s
}

// Key constructors for the entity families this application caches.

// UserKey addresses a single user record.
func UserKey(userID string) string {
	return BuildKey(KindUser, userID)
}

// UserByEmailKey addresses the email-to-user lookup.
func UserByEmailKey(email string) string {
	return BuildKey(KindUser, "email", email)
}

// UserPermissionsKey addresses a user's resolved permission set.
func UserPermissionsKey(userID string) string {
	return BuildKey(KindUser, userID, "permissions")
}

// UserListKey addresses one page of the user listing for a filter set.
func UserListKey(page, limit int, filter map[string]any) string {
	return BuildFilterKey(KindUserList,
		filter,
		"page", strconv.Itoa(page),
		"limit", strconv.Itoa(limit),
	)
}

// RoleListKey addresses the full role listing.
func RoleListKey() string {
	return BuildKey(KindRoleList, "all")
}

// RoleHierarchyKey addresses the role hierarchy snapshot.
func RoleHierarchyKey() string {
	return BuildKey(KindRoleList, "hierarchy")
}

// RolePermissionsKey addresses the effective grant set of a role.
func RolePermissionsKey(role string) string {
	return BuildKey(KindRole, role, "permissions")
}

// AuditLogsKey addresses one page of the audit listing for a filter set.
func AuditLogsKey(page, limit int, filter map[string]any) string {
	return BuildFilterKey(KindAuditList,
		filter,
		"page", strconv.Itoa(page),
		"limit", strconv.Itoa(limit),
	)
}

// AuditStatsKey addresses aggregated audit statistics over a trailing window.
func AuditStatsKey(days int) string {
	return BuildKey(KindAudit, "stats", fmt.Sprintf("%ddays", days))
}

// SessionKey addresses a token-derived session entry without storing the raw
// token in the key.
func SessionKey(token string) string {
	return BuildKey(KindSession, "token", hashString(token))
}
