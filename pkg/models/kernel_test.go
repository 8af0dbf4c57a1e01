package models

import "testing"

func TestKernelStatusValid(t *testing.T) {
	valid := []KernelStatus{
		KernelPending, KernelFetched, KernelPatched, KernelConfigured,
		KernelCompiled, KernelInstalled, KernelActivating, KernelActive,
		KernelInactive, KernelFailed, KernelRetired,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []KernelStatus{"", "building", "ACTIVE"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestKernelStatusInstalled(t *testing.T) {
	tests := []struct {
		status KernelStatus
		want   bool
	}{
		{KernelInstalled, true},
		{KernelActivating, true},
		{KernelActive, true},
		{KernelInactive, true},
		{KernelCompiled, false},
		{KernelRetired, false},
		{KernelFailed, false},
	}
	for _, tt := range tests {
		if got := tt.status.Installed(); got != tt.want {
			t.Errorf("%q.Installed() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
