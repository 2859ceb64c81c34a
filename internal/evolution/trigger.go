package evolution

import "time"

// Usage is what the current material has been used for since it became current.
type Usage struct {
	Since time.Time
	Bytes int64
	Files int
}

// Trigger decides whether the current material is due for evolution.
type Trigger interface {
	Due(usage Usage, now time.Time) bool
}

// AfterDuration is due once the material has been current for the duration.
// Zero or negative never fires.
type AfterDuration time.Duration

// Due implements Trigger.
func (d AfterDuration) Due(usage Usage, now time.Time) bool {
	return d > 0 && now.Sub(usage.Since) >= time.Duration(d)
}

// AfterBytes is due once the material has processed this many bytes.
type AfterBytes int64

// Due implements Trigger.
func (b AfterBytes) Due(usage Usage, _ time.Time) bool {
	return b > 0 && usage.Bytes >= int64(b)
}

// AfterFiles is due once the material has processed this many files.
type AfterFiles int

// Due implements Trigger.
func (f AfterFiles) Due(usage Usage, _ time.Time) bool {
	return f > 0 && usage.Files >= int(f)
}

// AnyOf is due when any of its triggers is.
type AnyOf []Trigger

// Due implements Trigger.
func (a AnyOf) Due(usage Usage, now time.Time) bool {
	for _, t := range a {
		if t != nil && t.Due(usage, now) {
			return true
		}
	}

	return false
}

type never struct{}

func (never) Due(Usage, time.Time) bool { return false }

// Never is a Trigger that is never due; evolution then only happens through Scheduler.Evolve.
var Never Trigger = never{}
