package batch

import "fmt"

// KeyPolicy selects how files are keyed.
type KeyPolicy int

const (
	// PerFileKeys generates fresh key material for every file.
	PerFileKeys KeyPolicy = iota
	// SharedKey uses the scheduler's current material for every file of a job.
	SharedKey
)

func (p KeyPolicy) String() string {
	switch p {
	case PerFileKeys:
		return "per-file"
	case SharedKey:
		return "shared"
	default:
		return fmt.Sprintf("KeyPolicy(%d)", int(p))
	}
}

// ParseKeyPolicy parses the names produced by String.
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch s {
	case "per-file", "":
		return PerFileKeys, nil
	case "shared":
		return SharedKey, nil
	default:
		return 0, fmt.Errorf("unknown key mode %q", s)
	}
}
