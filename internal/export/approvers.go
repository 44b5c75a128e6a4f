package export

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/franz/fpvscan/internal/util"
)

// DefaultApprovers is the reviewer roster offered by the scale export
var DefaultApprovers = []string{"邹子扬", "谢文敏", "吴镔", "向伟", "向文杰", "王炜龙", "李虹霖", "刘涛萌", "张浩春"}

// Approver is a reviewer and their share of rows
type Approver struct {
	Name   string
	Weight int
}

// ParseApprovers parses "name[:weight]" specs. A bare number selects from
// DefaultApprovers by 1-based index. Weights default to 1.
func ParseApprovers(specs []string) ([]Approver, error) {
	var out []Approver
	seen := make(map[string]int)

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		name, weightStr, hasWeight := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)

		if idx, err := strconv.Atoi(name); err == nil {
			if idx < 1 || idx > len(DefaultApprovers) {
				return nil, fmt.Errorf("%w: approver index %d out of range 1-%d", util.ErrInvalidConfig, idx, len(DefaultApprovers))
			}
			name = DefaultApprovers[idx-1]
		}

		weight := 1
		if hasWeight {
			w, err := strconv.Atoi(strings.TrimSpace(weightStr))
			if err != nil || w < 0 {
				return nil, fmt.Errorf("%w: invalid weight in %q", util.ErrInvalidConfig, spec)
			}
			weight = w
		}

		if i, ok := seen[name]; ok {
			out[i].Weight = weight
			continue
		}
		seen[name] = len(out)
		out = append(out, Approver{Name: name, Weight: weight})
	}

	return out, nil
}

// AssignApprovers distributes n rows among approvers in proportion to
// their weights. Each approver gets the floor of their exact share; the
// leftover rows go to the largest remainders. The result is shuffled.
// No approvers (or zero total weight) yields n empty names.
func AssignApprovers(n int, approvers []Approver, rng *rand.Rand) []string {
	out := make([]string, 0, n)

	total := 0
	for _, a := range approvers {
		total += a.Weight
	}
	if total <= 0 {
		for range n {
			out = append(out, "")
		}
		return out
	}

	counts := make([]int, len(approvers))
	remainders := make([]float64, len(approvers))
	assigned := 0
	for i, a := range approvers {
		exact := float64(n) * float64(a.Weight) / float64(total)
		counts[i] = int(exact)
		remainders[i] = exact - float64(counts[i])
		assigned += counts[i]
	}

	order := make([]int, len(approvers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return remainders[order[i]] > remainders[order[j]]
	})
	for i := 0; i < n-assigned; i++ {
		counts[order[i%len(order)]]++
	}

	for i, a := range approvers {
		for range counts[i] {
			out = append(out, a.Name)
		}
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
