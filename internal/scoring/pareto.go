package scoring

import "math"

// Gap is the absolute per-axis distance of a score from a target. Lower is
// better on every axis.
type Gap struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GapTo returns the per-axis gap between v and target.
func (v XYZ) GapTo(target XYZ) Gap {
	return Gap{
		X: math.Abs(v.X - target.X),
		Y: math.Abs(v.Y - target.Y),
		Z: math.Abs(v.Z - target.Z),
	}
}

// ParetoFront returns the indexes of the non-dominated gaps, in input order.
// O(n^2) dominance check, fine for top-N result sets.
func ParetoFront(gaps []Gap) []int {
	if len(gaps) <= 1 {
		if len(gaps) == 1 {
			return []int{0}
		}
		return nil
	}

	var front []int
	for i := range gaps {
		dominated := false
		for j := range gaps {
			if i == j {
				continue
			}
			if dominates(gaps[j], gaps[i]) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, i)
		}
	}
	return front
}

// dominates reports whether a is no worse than b on every axis and strictly
// better on at least one.
func dominates(a, b Gap) bool {
	if a.X > b.X || a.Y > b.Y || a.Z > b.Z {
		return false
	}
	return a.X < b.X || a.Y < b.Y || a.Z < b.Z
}
