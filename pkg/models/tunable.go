package models

import "time"

// Tunable is a single runtime parameter change with its captured
// previous value, so the change can always be reverted.
type Tunable struct {
	// Key is the sysctl-style key, e.g. "net.ipv4.tcp_congestion_control",
	// or a sysfs path alias like "block.sda.scheduler".
	Key string `json:"key"`
	// Previous is the live value captured immediately before the write.
	Previous string `json:"previous"`
	// Value is the value that was applied.
	Value string `json:"value"`
}

// TunableSet groups the tunables applied by one engine invocation.
// Sets are durable: revert works across process restarts.
type TunableSet struct {
	// ID is the unique set identifier.
	ID string `json:"id"`
	// Category is the bundle that produced the set (network, memory, io, harden).
	Category string `json:"category"`
	// Tunables lists the changes in application order.
	Tunables []Tunable `json:"tunables"`
	// AppliedAt is when the set was applied.
	AppliedAt time.Time `json:"applied_at"`
}
