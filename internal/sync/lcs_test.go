package sync

import "testing"

func applyOps(a []string, ops []diffOp) []string {
	out := append([]string(nil), a...)
	for _, op := range ops {
		if op.remove {
			out = append(out[:op.idx], out[op.idx+1:]...)
			continue
		}
		out = append(out, "")
		copy(out[op.idx+1:], out[op.idx:])
		out[op.idx] = op.rid
	}
	return out
}

func TestLCSDiff(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
	}{
		{"no-op", []string{"a", "b", "c"}, []string{"a", "b", "c"}},
		{"pure-insert", []string{"a", "c"}, []string{"a", "b", "c"}},
		{"pure-remove", []string{"a", "b", "c"}, []string{"a", "c"}},
		{"swap", []string{"a", "b"}, []string{"b", "a"}},
		{"scenario-3", []string{"A", "B", "C"}, []string{"A", "C", "D"}},
		{"empty-to-full", nil, []string{"a", "b", "c"}},
		{"full-to-empty", []string{"a", "b", "c"}, nil},
		{"disjoint", []string{"a", "b"}, []string{"c", "d"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ops := lcsDiff(tc.a, tc.b)
			got := applyOps(tc.a, ops)
			if !equalSlices(got, tc.b) {
				t.Fatalf("applying ops %+v to %v produced %v, want %v", ops, tc.a, got, tc.b)
			}
		})
	}
}

func TestLCSDiffScenario3EventOrder(t *testing.T) {
	ops := lcsDiff([]string{"A", "B", "C"}, []string{"A", "C", "D"})
	if len(ops) != 2 || !ops[0].remove || ops[0].idx != 1 || ops[1].remove || ops[1].idx != 2 {
		t.Fatalf("expected remove at 1 then add at 2, got %+v", ops)
	}
	var removed, added []string
	for _, op := range ops {
		if op.remove {
			removed = append(removed, op.rid)
		} else {
			added = append(added, op.rid)
		}
	}
	if len(removed) != 1 || removed[0] != "B" {
		t.Fatalf("expected only B removed, got %v", removed)
	}
	if len(added) != 1 || added[0] != "D" {
		t.Fatalf("expected only D added, got %v", added)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
