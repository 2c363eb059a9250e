package mailbox

import (
	"strings"
)

const queryDateLayout = "2006/01/02"

// BuildQuery renders q in Gmail search syntax, e.g.
// "after:2025/01/01 before:2025/07/01 from:(doordash.com OR walmart.com)"
func BuildQuery(q Query) string {
	var parts []string
	if !q.After.IsZero() {
		parts = append(parts, "after:"+q.After.Format(queryDateLayout))
	}
	if !q.Before.IsZero() {
		parts = append(parts, "before:"+q.Before.Format(queryDateLayout))
	}

	senders := make([]string, 0, len(q.Senders))
	for _, s := range q.Senders {
		if s = strings.TrimSpace(s); s != "" {
			senders = append(senders, s)
		}
	}
	if len(senders) > 0 {
		parts = append(parts, "from:("+strings.Join(senders, " OR ")+")")
	}

	return strings.Join(parts, " ")
}

// matchesSender reports whether from contains any of the sender fragments,
// ignoring case. A list without fragments matches everything.
func matchesSender(from string, senders []string) bool {
	from = strings.ToLower(from)
	filtered := false
	for _, s := range senders {
		if s = strings.ToLower(strings.TrimSpace(s)); s == "" {
			continue
		}
		filtered = true
		if strings.Contains(from, s) {
			return true
		}
	}
	return !filtered
}
