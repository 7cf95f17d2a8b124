package analytics

import "strings"

// forwardedPrefixes enumerates the contact-attribute prefixes that are
// forwarded to the CRM. A matching attribute is renamed by stripping the
// prefix; everything else is dropped. Order matters: the first match
// wins.
var forwardedPrefixes = []string{
	"crm_",
	"analytics_",
}

// MapAttributes filters and renames raw contact-flow attributes for
// the analytics payload. Pure function: both filtering and renaming
// follow the enumerated prefix table, never ad-hoc key inspection.
func MapAttributes(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := map[string]string{}
	for key, value := range raw {
		for _, prefix := range forwardedPrefixes {
			if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
				out[strings.TrimPrefix(key, prefix)] = value
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
