package grouping

import (
	"math"
	"sort"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// degPerKm converts great-circle km to degrees of latitude, with 1% slack.
const degPerKm = 1.01 * 180 / (math.Pi * 6371.0088)

// indexed is a detection stored in the R-tree.
type indexed struct {
	geom.Point
	idx int
}

// partition splits detections into components linked by DistanceKm over any
// time span. Two detections in different components can never share an
// event. Components are returned in order of their earliest detection id.
func partition(detections []domain.FireDetection, distanceKm float64) [][]domain.FireDetection {
	if len(detections) == 0 {
		return nil
	}

	tree := rtree.NewTree(25, 50)
	for i, d := range detections {
		tree.Insert(&indexed{Point: geom.Point{X: d.Lon, Y: d.Lat}, idx: i})
	}

	uf := newUnionFind(len(detections))
	for i, d := range detections {
		for _, box := range searchBoxes(d.Point(), distanceKm) {
			for _, hit := range tree.SearchIntersect(box) {
				j := hit.(*indexed).idx
				if j <= i {
					continue
				}
				if spatial.DistanceKm(d.Point(), detections[j].Point()) <= distanceKm {
					uf.union(i, j)
				}
			}
		}
	}

	byRoot := make(map[int][]domain.FireDetection)
	for i, d := range detections {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], d)
	}
	out := make([][]domain.FireDetection, 0, len(byRoot))
	for _, comp := range byRoot {
		sort.Slice(comp, func(a, b int) bool { return comp[a].ID < comp[b].ID })
		out = append(out, comp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0].ID < out[b][0].ID })
	return out
}

// searchBoxes returns the lon/lat boxes holding every point within km of p,
// split in two where the box crosses the antimeridian.
func searchBoxes(p domain.Point, km float64) []*geom.Bounds {
	dLat := km * degPerKm
	dLon := 180.0
	// Meridians converge towards the poles; size the box for the poleward edge.
	if edge := math.Abs(p.Lat) + dLat; edge < 90 {
		dLon = math.Min(dLat/math.Cos(edge*math.Pi/180), 180)
	}

	minY, maxY := p.Lat-dLat, p.Lat+dLat
	minX, maxX := p.Lon-dLon, p.Lon+dLon
	box := func(x0, x1 float64) *geom.Bounds {
		return &geom.Bounds{Min: geom.Point{X: x0, Y: minY}, Max: geom.Point{X: x1, Y: maxY}}
	}
	boxes := []*geom.Bounds{box(math.Max(minX, -180), math.Min(maxX, 180))}
	if minX < -180 {
		boxes = append(boxes, box(minX+360, 180))
	}
	if maxX > 180 {
		boxes = append(boxes, box(-180, maxX-360))
	}
	return boxes
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
