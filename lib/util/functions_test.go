package util

import "testing"

func TestHashString(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		seed uint64
		same bool
	}{
		{name: "same input", a: "node-1", b: "node-1", same: true},
		{name: "different input", a: "node-1", b: "node-2", same: false},
		{name: "seeded", a: "node-1", b: "node-1", seed: 42, same: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha := HashString(tt.a, tt.seed)
			hb := HashString(tt.b, tt.seed)
			if (ha == hb) != tt.same {
				t.Errorf("HashString(%q) = %d, HashString(%q) = %d", tt.a, ha, tt.b, hb)
			}
			if ha == 0 {
				t.Error("HashString must never return 0")
			}
		})
	}

	if HashString("node-1", 0) == HashString("node-1", 1) {
		t.Error("seed should change the hash")
	}
}
