package spatial

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
)

// zoneEntry is the rtree payload: the projected zone rectangle and its position in generation order
type zoneEntry struct {
	geom.Polygonal
	pos int
}

// zoneIndex narrows containment candidates. It never decides containment itself:
// callers re-test every candidate in generation order.
type zoneIndex struct {
	tree *rtree.Rtree
	pad  float64
}

func newZoneIndex(rings []orb.Ring) *zoneIndex {
	tree := rtree.NewTree(25, 50)
	var extent orb.Bound
	for pos, r := range rings {
		b := r.Bound()
		if pos == 0 {
			extent = b
		} else {
			extent = extent.Union(b)
		}
		tree.Insert(&zoneEntry{
			Polygonal: geom.Polygon{{
				{X: b.Min[0], Y: b.Min[1]},
				{X: b.Max[0], Y: b.Min[1]},
				{X: b.Max[0], Y: b.Max[1]},
				{X: b.Min[0], Y: b.Max[1]},
			}},
			pos: pos,
		})
	}

	// Query boxes are padded so zones touching the point only at an edge are still returned.
	span := extent.Max[0] - extent.Min[0]
	if h := extent.Max[1] - extent.Min[1]; h > span {
		span = h
	}
	return &zoneIndex{tree: tree, pad: span*1e-9 + 1e-12}
}

// candidates returns positions of zones whose bounds may contain p, ascending
func (ix *zoneIndex) candidates(p orb.Point) []int {
	query := &geom.Bounds{
		Min: geom.Point{X: p[0] - ix.pad, Y: p[1] - ix.pad},
		Max: geom.Point{X: p[0] + ix.pad, Y: p[1] + ix.pad},
	}
	hits := ix.tree.SearchIntersect(query)

	out := make([]int, 0, len(hits))
	for _, h := range hits {
		if e, ok := h.(*zoneEntry); ok {
			out = append(out, e.pos)
		}
	}
	sort.Ints(out)
	return out
}
