package build

import (
	"testing"

	"github.com/vkm-dev/vkm/pkg/models"
)

func TestPoolRunsDistinctVersions(t *testing.T) {
	f := newBuildFixture(t)
	f.plantPackage(t, "6.1.0-vps", "6.1.0")
	f.plantPackage(t, "6.2.0-vps", "6.2.0")

	pool := NewPool(f.builder)
	for _, v := range []string{"6.1.0", "6.2.0"} {
		if _, err := pool.Submit(Request{Version: v, Profile: models.ProfileVPS}); err != nil {
			t.Fatalf("Submit %s: %v", v, err)
		}
	}

	go pool.Wait()

	outcomes := make(map[string]error)
	for ev := range pool.Events() {
		outcomes[ev.KernelID] = ev.Err
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %v", outcomes)
	}
	for id, err := range outcomes {
		if err != nil {
			t.Errorf("build %s failed: %v", id, err)
		}
	}
	if pool.Count() != 0 {
		t.Errorf("Count = %d after Wait", pool.Count())
	}

	for _, id := range []string{"6.1.0-vps", "6.2.0-vps"} {
		rec, err := f.db.GetKernel(id)
		if err != nil || rec == nil || rec.Status != models.KernelCompiled {
			t.Errorf("record %s = %+v (err %v)", id, rec, err)
		}
	}
}
