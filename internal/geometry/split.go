// Package geometry holds the planar helpers used when a line restriction is
// cut into pieces.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrNothingToSplit is returned when no cut point falls strictly inside the line.
var ErrNothingToSplit = errors.New("no split point lies inside the line")

const epsilon = 1e-9

type cut struct {
	segment int
	t       float64
	point   orb.Point
}

// SplitLineAt projects each point onto the line and cuts it there. Points
// that project onto an end of the line are ignored, as are duplicates.
func SplitLineAt(line orb.LineString, points []orb.Point) ([]orb.LineString, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("line needs at least two vertices, got %d", len(line))
	}

	cuts := make([]cut, 0, len(points))
	for _, p := range points {
		c := nearestCut(line, p)
		if c.segment == 0 && c.t <= epsilon {
			continue
		}
		if c.segment == len(line)-2 && c.t >= 1-epsilon {
			continue
		}
		cuts = append(cuts, c)
	}
	sort.Slice(cuts, func(i, j int) bool {
		if cuts[i].segment != cuts[j].segment {
			return cuts[i].segment < cuts[j].segment
		}
		return cuts[i].t < cuts[j].t
	})
	cuts = dedupe(cuts)
	if len(cuts) == 0 {
		return nil, ErrNothingToSplit
	}

	return splitLineString(line, cuts), nil
}

// ToGeometries widens the fragments for the versioning engine.
func ToGeometries(lines []orb.LineString) []orb.Geometry {
	out := make([]orb.Geometry, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}

func nearestCut(line orb.LineString, target orb.Point) cut {
	best := cut{}
	minDist := math.MaxFloat64
	for i := 0; i < len(line)-1; i++ {
		proj, t := projectPointToSegment(target, line[i], line[i+1])
		dist := planar.Distance(proj, target)
		if dist < minDist {
			minDist = dist
			best = cut{segment: i, t: t, point: proj}
		}
	}
	// a cut at the very end of a segment is the start of the next one
	if best.t >= 1-epsilon && best.segment < len(line)-2 {
		best = cut{segment: best.segment + 1, t: 0, point: line[best.segment+1]}
	}
	return best
}

func projectPointToSegment(point, segStart, segEnd orb.Point) (orb.Point, float64) {
	dx := segEnd[0] - segStart[0]
	dy := segEnd[1] - segStart[1]
	if dx == 0 && dy == 0 {
		return segStart, 0
	}

	t := ((point[0]-segStart[0])*dx + (point[1]-segStart[1])*dy) / (dx*dx + dy*dy)
	if t < 0 {
		return segStart, 0
	} else if t > 1 {
		return segEnd, 1
	}
	return orb.Point{segStart[0] + t*dx, segStart[1] + t*dy}, t
}

func dedupe(cuts []cut) []cut {
	out := cuts[:0]
	for i, c := range cuts {
		if i > 0 && planar.Distance(c.point, out[len(out)-1].point) <= epsilon {
			continue
		}
		out = append(out, c)
	}
	return out
}

func splitLineString(ls orb.LineString, cuts []cut) []orb.LineString {
	result := make([]orb.LineString, 0, len(cuts)+1)
	current := orb.LineString{ls[0]}
	next := 0

	for seg := 0; seg < len(ls)-1; seg++ {
		for next < len(cuts) && cuts[next].segment == seg {
			p := cuts[next].point
			if !p.Equal(current[len(current)-1]) {
				current = append(current, p)
			}
			result = append(result, current)
			current = orb.LineString{p}
			next++
		}
		if !ls[seg+1].Equal(current[len(current)-1]) {
			current = append(current, ls[seg+1])
		}
	}
	if len(current) >= 2 {
		result = append(result, current)
	}
	return result
}
