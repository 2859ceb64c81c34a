// Package chaos generates the hybrid logistic/Lorenz sequence that seeds every keystream.
// All iteration happens in integer fixed point, so a seed yields the same bytes on every platform.
package chaos
