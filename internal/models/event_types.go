package models

import "strings"

// EventTypes is the closed set of event types the CRM emits. Patterns
// on subscriptions and types on ingested events are validated against
// it; the table carries no behavior.
var EventTypes = []string{
	"contact.created",
	"contact.updated",
	"contact.deleted",
	"transaction.created",
	"transaction.updated",
	"transaction.stage_changed",
	"transaction.closed",
	"property.created",
	"property.updated",
	"note.created",
	"task.created",
	"task.completed",
	"webhook.test",
	"webhook.verification",
}

// IsValidEventType reports whether t is a concrete catalog type.
func IsValidEventType(t string) bool {
	for _, et := range EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// IsValidPattern reports whether p is acceptable on a subscription:
// a concrete catalog type, the global wildcard "*", or a category
// wildcard like "contact.*" whose category exists in the catalog.
func IsValidPattern(p string) bool {
	if p == "*" {
		return true
	}
	if strings.HasSuffix(p, ".*") {
		prefix := strings.TrimSuffix(p, ".*")
		if prefix == "" {
			return false
		}
		for _, et := range EventTypes {
			if strings.HasPrefix(et, prefix+".") {
				return true
			}
		}
		return false
	}
	return IsValidEventType(p)
}

// MatchesEventType reports whether any subscribed pattern covers the
// given event type. Exact match, "*", or "category.*" prefix match.
func MatchesEventType(subscribed []string, eventType string) bool {
	for _, sub := range subscribed {
		if sub == eventType || sub == "*" {
			return true
		}
		if strings.HasSuffix(sub, ".*") {
			prefix := strings.TrimSuffix(sub, ".*")
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}
	return false
}
