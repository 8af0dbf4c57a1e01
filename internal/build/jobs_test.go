package build

import "testing"

func TestParallelism(t *testing.T) {
	tests := []struct {
		name        string
		cores       int
		availMB     uint64
		memPerJobMB int
		override    int
		want        int
	}{
		{"cpu bound", 4, 32768, 2048, 0, 4},
		{"memory bound", 8, 4096, 2048, 0, 2},
		{"tiny host floors at one", 1, 512, 2048, 0, 1},
		{"zero memory floors at one", 4, 0, 2048, 0, 1},
		{"override wins", 2, 2048, 2048, 6, 6},
		{"no memory estimate", 4, 1024, 0, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parallelism(tt.cores, tt.availMB, tt.memPerJobMB, tt.override)
			if got != tt.want {
				t.Errorf("Parallelism(%d, %d, %d, %d) = %d, want %d",
					tt.cores, tt.availMB, tt.memPerJobMB, tt.override, got, tt.want)
			}
		})
	}
}
