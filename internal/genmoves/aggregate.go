package genmoves

import "github.com/gobaduk/pachimaster/internal/wire"

// aggregate is the running per-coord move_stats table built up across
// every reply received for the current search id. Order of arrival
// never matters: folding a child-stat line is a commutative weighted
// mean, so replies from slaves {A, B, C} in any order produce the same
// aggregate.
type aggregate struct {
	byCoord map[string]*MoveStat
	order   []string // first-seen order, for stable "first encountered" tie-breaking
}

func newAggregate() *aggregate {
	return &aggregate{byCoord: make(map[string]*MoveStat)}
}

// add folds one slave's reported child-stat line into the aggregate
// using the weighted-mean merge rule shared with the slave-side tree.
func (a *aggregate) add(c wire.ChildStat) {
	s, ok := a.byCoord[c.Coord]
	if !ok {
		s = &MoveStat{Coord: c.Coord}
		a.byCoord[c.Coord] = s
		a.order = append(a.order, c.Coord)
	}
	s.Value = weightedMean(s.Value, s.Playouts, c.Value, c.Playouts)
	s.Playouts += c.Playouts
	s.AMAFValue = weightedMean(s.AMAFValue, s.AMAFPlayouts, c.AMAFValue, c.AMAFPlayouts)
	s.AMAFPlayouts += c.AMAFPlayouts
}

func weightedMean(oldV float64, oldP int, addV float64, addP int) float64 {
	total := oldP + addP
	if total == 0 {
		return 0
	}
	return (oldV*float64(oldP) + addV*float64(addP)) / float64(total)
}

// best returns the coord with the highest aggregated playouts, ties
// broken by first-encountered order. Returns the zero MoveStat if
// nothing has been reported yet.
func (a *aggregate) best() MoveStat {
	var best MoveStat
	for _, coord := range a.order {
		s := a.byCoord[coord]
		if s.Playouts > best.Playouts {
			best = *s
		}
	}
	return best
}

// snapshot returns a stable copy of the full aggregate for callers
// that need it after the loop exits (chat interface, history).
func (a *aggregate) snapshot() map[string]MoveStat {
	out := make(map[string]MoveStat, len(a.byCoord))
	for coord, s := range a.byCoord {
		out[coord] = *s
	}
	return out
}

// priorsAbove returns every non-pass, non-resign child whose
// aggregated playouts exceed threshold, encoded as wire.ChildStat for
// the next incremental prior-stats payload.
func (a *aggregate) priorsAbove(threshold int) []wire.ChildStat {
	out := make([]wire.ChildStat, 0, len(a.order))
	for _, coord := range a.order {
		if coord == "pass" || coord == "resign" {
			continue
		}
		s := a.byCoord[coord]
		if s.Playouts <= threshold {
			continue
		}
		out = append(out, wire.ChildStat{
			Coord:        s.Coord,
			Playouts:     s.Playouts,
			Value:        s.Value,
			AMAFPlayouts: s.AMAFPlayouts,
			AMAFValue:    s.AMAFValue,
		})
	}
	return out
}
