// Package platform defines the common statistics shape the per-platform
// adapters extract, and the mapping from declared or reported software
// names onto a supported platform family.
package platform

import "strings"

// Supported platform identifiers. Unknown means "infer later" on input
// and "no adapter" after detection.
const (
	Mastodon = "mastodon"
	Misskey  = "misskey"
	Unknown  = "unknown"
)

// Stats is the shape every adapter returns; all fields are optional.
type Stats struct {
	SoftwareName      string
	SoftwareVersion   string
	OpenRegistrations *bool
	UsersTotal        *int64
	UsersActiveMonth  *int64
	Statuses          *int64
	Languages         []string
	Peers             []string
}

// Detect resolves the platform for an instance. A declared platform wins
// even when unsupported (the caller reports it as such); otherwise the
// software name reported by NodeInfo is matched against known platform
// families and their forks.
func Detect(declared, softwareName string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != Unknown {
		return declared
	}

	name := strings.ToLower(strings.TrimSpace(softwareName))
	switch {
	case name == "":
		return Unknown
	case strings.Contains(name, "mastodon"),
		strings.Contains(name, "hometown"),
		strings.Contains(name, "glitch"):
		return Mastodon
	case strings.Contains(name, "misskey"),
		strings.Contains(name, "calckey"),
		strings.Contains(name, "firefish"):
		return Misskey
	}
	return Unknown
}

// FirstInt returns the first non-nil value.
func FirstInt(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
