package export

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/franz/fpvscan/internal/util"
)

func TestParseApprovers(t *testing.T) {
	got, err := ParseApprovers([]string{"1", "张三:2", " 9:3 ", "", "张三:5"})
	if err != nil {
		t.Fatalf("ParseApprovers failed: %v", err)
	}

	want := []Approver{
		{Name: DefaultApprovers[0], Weight: 1},
		{Name: "张三", Weight: 5},
		{Name: DefaultApprovers[8], Weight: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d approvers, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("approver %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseApprovers_Invalid(t *testing.T) {
	for _, spec := range []string{"0", "10", "张三:x", "张三:-1"} {
		if _, err := ParseApprovers([]string{spec}); !errors.Is(err, util.ErrInvalidConfig) {
			t.Errorf("ParseApprovers(%q) error = %v, want ErrInvalidConfig", spec, err)
		}
	}
}

func TestAssignApprovers(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		approvers []Approver
		want      map[string]int
	}{
		{
			name:      "even split with leftover to first",
			n:         10,
			approvers: []Approver{{"a", 1}, {"b", 1}, {"c", 1}},
			want:      map[string]int{"a": 4, "b": 3, "c": 3},
		},
		{
			name:      "weighted",
			n:         7,
			approvers: []Approver{{"a", 3}, {"b", 1}},
			want:      map[string]int{"a": 5, "b": 2},
		},
		{
			name:      "zero weight gets nothing",
			n:         4,
			approvers: []Approver{{"a", 1}, {"b", 0}},
			want:      map[string]int{"a": 4},
		},
		{
			name: "no approvers",
			n:    3,
			want: map[string]int{"": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssignApprovers(tt.n, tt.approvers, rand.New(rand.NewPCG(1, 2)))
			if len(got) != tt.n {
				t.Fatalf("got %d names, want %d", len(got), tt.n)
			}
			counts := make(map[string]int)
			for _, name := range got {
				counts[name]++
			}
			if len(counts) != len(tt.want) {
				t.Fatalf("counts = %v, want %v", counts, tt.want)
			}
			for name, c := range tt.want {
				if counts[name] != c {
					t.Errorf("%q assigned %d rows, want %d", name, counts[name], c)
				}
			}
		})
	}
}

func TestAssignApprovers_Deterministic(t *testing.T) {
	approvers := []Approver{{"a", 1}, {"b", 2}, {"c", 1}}
	first := AssignApprovers(20, approvers, rand.New(rand.NewPCG(7, 7)))
	second := AssignApprovers(20, approvers, rand.New(rand.NewPCG(7, 7)))
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different order at %d: %q vs %q", i, first[i], second[i])
		}
	}
}
