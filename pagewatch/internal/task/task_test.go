package task

import (
	"testing"
	"time"
)

func TestIntervalSeconds(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
		want int
	}{
		{"nil", Descriptor{}, DefaultIntervalSeconds},
		{"fixed", Descriptor{Interval: FixedInterval(60)}, 60},
		{"zero clamps", Descriptor{Interval: FixedInterval(0)}, 1},
		{"func", Descriptor{Interval: IntervalFunc(func() int { return 42 })}, 42},
	}
	for _, tc := range cases {
		if got := tc.d.IntervalSeconds(); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRandomInterval_Bounds(t *testing.T) {
	// WHAT: randomised intervals stay within [Min, Max] and vary.
	r := RandomInterval{Min: 10, Max: 20}
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		s := r.Seconds()
		if s < 10 || s > 20 {
			t.Fatalf("Seconds() = %d, out of [10,20]", s)
		}
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Fatal("RandomInterval never varied")
	}
	if (RandomInterval{Min: 5, Max: 5}).Seconds() != 5 {
		t.Fatal("degenerate range")
	}
}

func TestTimeoutDefault(t *testing.T) {
	if (Descriptor{}).Timeout() != DefaultTimeout {
		t.Fatal("default timeout not applied")
	}
	d := Descriptor{Navigation: Navigation{Timeout: 5 * time.Second}}
	if d.Timeout() != 5*time.Second {
		t.Fatal("explicit timeout ignored")
	}
}

func TestHash(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Hash("abc"); got != want {
		t.Fatalf("Hash = %s", got)
	}
}

func TestBaseline(t *testing.T) {
	var b Baseline
	if b.Established() {
		t.Fatal("zero baseline is established")
	}
	b = Baseline{Hash: Hash("x"), Resources: []string{"a", "b"}}
	if !b.Established() || !b.HasResource("b") || b.HasResource("c") {
		t.Fatalf("unexpected baseline behaviour: %+v", b)
	}
}
