package translate

import (
	"strings"

	"github.com/harrisonrobin/sheetsync/pkg/model"
)

// Sheet status values. Several legacy values collapse onto one internal
// status; the canonical value is the one written back.
var statusFromSheet = map[string]model.Status{
	"open":                model.StatusOpen,
	"not started":         model.StatusOpen,
	"in progress":         model.StatusInProgress,
	"working":             model.StatusInProgress,
	"on hold":             model.StatusOnHold,
	"hold":                model.StatusOnHold,
	"parked":              model.StatusOnHold,
	"waiting on client":   model.StatusWaitingOnClient,
	"waiting on vendor":   model.StatusWaitingOnVendor,
	"waiting on approval": model.StatusWaitingOnApproval,
	"blocked":             model.StatusBlocked,
	"scheduled":           model.StatusScheduled,
	"in review":           model.StatusReview,
	"done":                model.StatusCompleted,
	"complete":            model.StatusCompleted,
	"completed":           model.StatusCompleted,
	"cancelled":           model.StatusCancelled,
	"canceled":            model.StatusCancelled,
	"dropped":             model.StatusCancelled,
	"archived":            model.StatusArchived,
}

var statusToSheet = map[model.Status]string{
	model.StatusOpen:              "Open",
	model.StatusInProgress:        "In Progress",
	model.StatusOnHold:            "On Hold",
	model.StatusWaitingOnClient:   "Waiting on Client",
	model.StatusWaitingOnVendor:   "Waiting on Vendor",
	model.StatusWaitingOnApproval: "Waiting on Approval",
	model.StatusBlocked:           "Blocked",
	model.StatusScheduled:         "Scheduled",
	model.StatusReview:            "In Review",
	model.StatusCompleted:         "Done",
	model.StatusCancelled:         "Cancelled",
	model.StatusArchived:          "Archived",
}

var priorityFromSheet = map[string]model.Priority{
	"critical": model.PriorityCritical,
	"urgent":   model.PriorityCritical,
	"high":     model.PriorityHigh,
	"medium":   model.PriorityMedium,
	"normal":   model.PriorityMedium,
	"low":      model.PriorityLow,
}

var priorityToSheet = map[model.Priority]string{
	model.PriorityCritical: "Critical",
	model.PriorityHigh:     "High",
	model.PriorityMedium:   "Medium",
	model.PriorityLow:      "Low",
}

var domainFromSheet = map[string]model.Domain{
	"work":      model.DomainWork,
	"personal":  model.DomainPersonal,
	"admin":     model.DomainAdmin,
	"finance":   model.DomainFinance,
	"health":    model.DomainHealth,
	"household": model.DomainHousehold,
}

var domainToSheet = map[model.Domain]string{
	model.DomainWork:      "Work",
	model.DomainPersonal:  "Personal",
	model.DomainAdmin:     "Admin",
	model.DomainFinance:   "Finance",
	model.DomainHealth:    "Health",
	model.DomainHousehold: "Household",
}

const (
	DefaultStatus   = model.StatusOpen
	DefaultPriority = model.PriorityMedium
	DefaultDomain   = model.DomainPersonal
)

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StatusFromSheet maps a sheet status to the internal status. ok is false for
// values outside the table, in which case DefaultStatus is returned.
func StatusFromSheet(s string) (model.Status, bool) {
	if v, ok := statusFromSheet[key(s)]; ok {
		return v, true
	}
	return DefaultStatus, false
}

// StatusToSheet returns the canonical sheet value for s.
func StatusToSheet(s model.Status) string {
	if v, ok := statusToSheet[s]; ok {
		return v
	}
	return statusToSheet[DefaultStatus]
}

func PriorityFromSheet(s string) (model.Priority, bool) {
	if v, ok := priorityFromSheet[key(s)]; ok {
		return v, true
	}
	return DefaultPriority, false
}

func PriorityToSheet(p model.Priority) string {
	if v, ok := priorityToSheet[p]; ok {
		return v
	}
	return priorityToSheet[DefaultPriority]
}

func DomainFromSheet(s string) (model.Domain, bool) {
	if v, ok := domainFromSheet[key(s)]; ok {
		return v, true
	}
	return DefaultDomain, false
}

func DomainToSheet(d model.Domain) string {
	if v, ok := domainToSheet[d]; ok {
		return v
	}
	return domainToSheet[DefaultDomain]
}
