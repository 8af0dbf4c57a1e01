package models

import "testing"

func TestKnownProfile(t *testing.T) {
	for _, name := range []string{ProfileVPS, ProfilePerformance, ProfileMinimal, ProfileCustom} {
		if !KnownProfile(name) {
			t.Errorf("%q should be known", name)
		}
	}
	for _, name := range []string{"", "VPS", "server"} {
		if KnownProfile(name) {
			t.Errorf("%q should be unknown", name)
		}
	}
}

func TestConfigDeltaMerge(t *testing.T) {
	base := ConfigDelta{
		"CONFIG_HZ_1000":      "y",
		"CONFIG_TCP_CONG_BBR": "y",
	}
	merged := base.Merge(map[string]string{
		"CONFIG_TCP_CONG_BBR": "n",
		"CONFIG_KVM_GUEST":    "y",
	})

	if merged["CONFIG_TCP_CONG_BBR"] != "n" {
		t.Errorf("override should win: %q", merged["CONFIG_TCP_CONG_BBR"])
	}
	if merged["CONFIG_HZ_1000"] != "y" || merged["CONFIG_KVM_GUEST"] != "y" {
		t.Errorf("merge dropped keys: %+v", merged)
	}
	// The receiver is untouched.
	if _, ok := base["CONFIG_KVM_GUEST"]; ok {
		t.Error("Merge mutated the receiver")
	}
}

func TestConfigDeltaKeysSorted(t *testing.T) {
	d := ConfigDelta{"CONFIG_C": "y", "CONFIG_A": "y", "CONFIG_B": "n"}
	keys := d.Keys()
	want := []string{"CONFIG_A", "CONFIG_B", "CONFIG_C"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
