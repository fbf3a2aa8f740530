package utils

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the formats seen in CVMFS JSON documents. cvmfs_server writes
// `date` output ("Tue Mar 26 11:09:46 UTC 2024"); newer tools write RFC 2822 or RFC 3339.
var dateLayouts = []string{
	time.UnixDate,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.ANSIC,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// ParseDate parses a date in any of the layouts CVMFS servers emit.
// An empty string yields nil without an error.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}
