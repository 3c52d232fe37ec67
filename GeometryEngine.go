/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Gozonal

import (
	"fmt"
	"math"
	"sort"

	"github.com/engelsjk/polygol"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeometryEngine 几何运算引擎接口
type GeometryEngine interface {
	// Intersects 判断两个几何对象是否相交
	Intersects(a, b orb.Geometry) bool
	// Intersection 计算两个几何对象的交集，无交集时返回nil
	Intersection(a, b orb.Geometry) (orb.Geometry, error)
	// Area 计算面积（平面坐标）
	Area(g orb.Geometry) float64
	// Length 计算长度（平面坐标）
	Length(g orb.Geometry) float64
	// IsValid 检查几何对象是否有效
	IsValid(g orb.Geometry) bool
}

// PlanarEngine 基于平面坐标的几何引擎实现
type PlanarEngine struct {
	Epsilon float64
}

func NewPlanarEngine() *PlanarEngine {
	return &PlanarEngine{Epsilon: 1e-9}
}

func (e *PlanarEngine) Area(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return math.Abs(planar.Area(g))
}

func (e *PlanarEngine) Length(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return planar.Length(g)
}

// IsValid 做环闭合与点数的退化检查，不做完整的自相交检测
func (e *PlanarEngine) IsValid(g orb.Geometry) bool {
	switch geom := g.(type) {
	case orb.Point:
		return !math.IsNaN(geom[0]) && !math.IsNaN(geom[1])
	case orb.MultiPoint:
		return len(geom) > 0
	case orb.LineString:
		return len(geom) >= 2
	case orb.MultiLineString:
		if len(geom) == 0 {
			return false
		}
		for _, ls := range geom {
			if len(ls) < 2 {
				return false
			}
		}
		return true
	case orb.Polygon:
		return polygonRingsValid(geom)
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return false
		}
		for _, p := range geom {
			if !polygonRingsValid(p) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func polygonRingsValid(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, ring := range p {
		if len(ring) < 4 {
			return false
		}
		if !ring.Closed() {
			return false
		}
	}
	return true
}

func (e *PlanarEngine) Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	inter, err := e.Intersection(a, b)
	if err != nil {
		return false
	}
	return !geometryIsEmpty(inter)
}

// Intersection 按几何类型组合分派求交。
// 汇总流程保证调用时区域维度不低于分类维度，其余组合按对称处理。
func (e *PlanarEngine) Intersection(a, b orb.Geometry) (orb.Geometry, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	if !a.Bound().Intersects(b.Bound()) {
		return nil, nil
	}
	ta, tb := GeometryTypeOf(a), GeometryTypeOf(b)
	switch {
	case ta == PolygonGeometry && tb == PolygonGeometry:
		return e.polygonIntersection(a, b)
	case ta == PolygonGeometry && tb == LineGeometry:
		return e.clipLinesToPolygon(toMultiLineString(b), toMultiPolygon(a))
	case ta == LineGeometry && tb == PolygonGeometry:
		return e.clipLinesToPolygon(toMultiLineString(a), toMultiPolygon(b))
	case ta == PolygonGeometry && tb == PointGeometry:
		return e.pointsInPolygon(toMultiPoint(b), toMultiPolygon(a))
	case ta == PointGeometry && tb == PolygonGeometry:
		return e.pointsInPolygon(toMultiPoint(a), toMultiPolygon(b))
	case ta == LineGeometry && tb == LineGeometry:
		return e.lineLineIntersection(toMultiLineString(a), toMultiLineString(b))
	case ta == LineGeometry && tb == PointGeometry:
		return e.pointsOnLines(toMultiPoint(b), toMultiLineString(a))
	case ta == PointGeometry && tb == LineGeometry:
		return e.pointsOnLines(toMultiPoint(a), toMultiLineString(b))
	case ta == PointGeometry && tb == PointGeometry:
		return e.coincidentPoints(toMultiPoint(a), toMultiPoint(b))
	default:
		return nil, fmt.Errorf("不支持的几何类型组合: %s × %s", ta, tb)
	}
}

func (e *PlanarEngine) polygonIntersection(a, b orb.Geometry) (orb.Geometry, error) {
	ga := polygonToGeom(toMultiPolygon(a))
	gb := polygonToGeom(toMultiPolygon(b))
	out, err := polygol.Intersection(polygol.Geom(ga), polygol.Geom(gb))
	if err != nil {
		return nil, fmt.Errorf("多边形求交失败: %v", err)
	}
	mp := geomToMultiPolygon([][][][]float64(out))
	if len(mp) == 0 {
		return nil, nil
	}
	return mp, nil
}

// clipLinesToPolygon 把线裁剪到多边形内部。
// 对每条线段求出与所有环的交点参数，按参数切分后保留中点落在面内的子段。
func (e *PlanarEngine) clipLinesToPolygon(lines orb.MultiLineString, poly orb.MultiPolygon) (orb.Geometry, error) {
	var out orb.MultiLineString
	var current orb.LineString
	for _, ls := range lines {
		for i := 0; i+1 < len(ls); i++ {
			p1, p2 := ls[i], ls[i+1]
			ts := []float64{0, 1}
			for _, p := range poly {
				for _, ring := range p {
					for j := 0; j+1 < len(ring); j++ {
						if t, ok := segmentIntersectionParam(p1, p2, ring[j], ring[j+1], e.Epsilon); ok {
							ts = append(ts, t)
						}
					}
				}
			}
			sort.Float64s(ts)
			for k := 0; k+1 < len(ts); k++ {
				t0, t1 := ts[k], ts[k+1]
				if t1-t0 < e.Epsilon {
					continue
				}
				mid := interpolate(p1, p2, (t0+t1)/2)
				if planar.MultiPolygonContains(poly, mid) {
					a := interpolate(p1, p2, t0)
					b := interpolate(p1, p2, t1)
					if len(current) > 0 && pointsEqual(current[len(current)-1], a, e.Epsilon) {
						current = append(current, b)
					} else {
						if len(current) >= 2 {
							out = append(out, current)
						}
						current = orb.LineString{a, b}
					}
				} else if len(current) >= 2 {
					out = append(out, current)
					current = nil
				} else {
					current = nil
				}
			}
		}
		if len(current) >= 2 {
			out = append(out, current)
		}
		current = nil
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (e *PlanarEngine) pointsInPolygon(pts orb.MultiPoint, poly orb.MultiPolygon) (orb.Geometry, error) {
	var out orb.MultiPoint
	for _, pt := range pts {
		if planar.MultiPolygonContains(poly, pt) {
			out = append(out, pt)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// lineLineIntersection 求两组线的交点，共线重叠段单独收集。
func (e *PlanarEngine) lineLineIntersection(a, b orb.MultiLineString) (orb.Geometry, error) {
	var pts orb.MultiPoint
	var segs orb.MultiLineString
	for _, la := range a {
		for i := 0; i+1 < len(la); i++ {
			for _, lb := range b {
				for j := 0; j+1 < len(lb); j++ {
					if seg, ok := collinearOverlap(la[i], la[i+1], lb[j], lb[j+1], e.Epsilon); ok {
						segs = append(segs, seg)
						continue
					}
					if pt, ok := segmentCrossing(la[i], la[i+1], lb[j], lb[j+1], e.Epsilon); ok {
						if !containsPoint(pts, pt, e.Epsilon) {
							pts = append(pts, pt)
						}
					}
				}
			}
		}
	}
	if len(segs) > 0 {
		return segs, nil
	}
	if len(pts) == 0 {
		return nil, nil
	}
	return pts, nil
}

func (e *PlanarEngine) pointsOnLines(pts orb.MultiPoint, lines orb.MultiLineString) (orb.Geometry, error) {
	var out orb.MultiPoint
	for _, pt := range pts {
		for _, ls := range lines {
			if pointOnLineString(pt, ls, e.Epsilon) {
				out = append(out, pt)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (e *PlanarEngine) coincidentPoints(a, b orb.MultiPoint) (orb.Geometry, error) {
	var out orb.MultiPoint
	for _, pa := range a {
		for _, pb := range b {
			if pointsEqual(pa, pb, e.Epsilon) {
				out = append(out, pa)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// geometryIsEmpty 判断求交结果是否为空
func geometryIsEmpty(g orb.Geometry) bool {
	switch geom := g.(type) {
	case nil:
		return true
	case orb.MultiPolygon:
		return len(geom) == 0
	case orb.Polygon:
		return len(geom) == 0
	case orb.MultiLineString:
		return len(geom) == 0
	case orb.LineString:
		return len(geom) < 2
	case orb.MultiPoint:
		return len(geom) == 0
	case orb.Point:
		return false
	default:
		return true
	}
}

func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		return geom
	default:
		return nil
	}
}

func toMultiLineString(g orb.Geometry) orb.MultiLineString {
	switch geom := g.(type) {
	case orb.LineString:
		return orb.MultiLineString{geom}
	case orb.MultiLineString:
		return geom
	default:
		return nil
	}
}

func toMultiPoint(g orb.Geometry) orb.MultiPoint {
	switch geom := g.(type) {
	case orb.Point:
		return orb.MultiPoint{geom}
	case orb.MultiPoint:
		return geom
	default:
		return nil
	}
}

// polygonToGeom orb多面转polygol坐标结构
func polygonToGeom(mp orb.MultiPolygon) [][][][]float64 {
	out := make([][][][]float64, 0, len(mp))
	for _, p := range mp {
		rings := make([][][]float64, 0, len(p))
		for _, ring := range p {
			coords := make([][]float64, 0, len(ring))
			for _, pt := range ring {
				coords = append(coords, []float64{pt[0], pt[1]})
			}
			rings = append(rings, coords)
		}
		out = append(out, rings)
	}
	return out
}

func geomToMultiPolygon(g [][][][]float64) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, p := range g {
		var poly orb.Polygon
		for _, ring := range p {
			r := make(orb.Ring, 0, len(ring))
			for _, pt := range ring {
				r = append(r, orb.Point{pt[0], pt[1]})
			}
			if len(r) >= 4 {
				poly = append(poly, r)
			}
		}
		if len(poly) > 0 {
			mp = append(mp, poly)
		}
	}
	return mp
}

func pointsEqual(a, b orb.Point, eps float64) bool {
	return math.Abs(a[0]-b[0]) <= eps && math.Abs(a[1]-b[1]) <= eps
}

func containsPoint(pts orb.MultiPoint, p orb.Point, eps float64) bool {
	for _, q := range pts {
		if pointsEqual(q, p, eps) {
			return true
		}
	}
	return false
}

func interpolate(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

// segmentIntersectionParam 求线段p1p2与q1q2的交点在p1p2上的参数t
func segmentIntersectionParam(p1, p2, q1, q2 orb.Point, eps float64) (float64, bool) {
	d1x, d1y := p2[0]-p1[0], p2[1]-p1[1]
	d2x, d2y := q2[0]-q1[0], q2[1]-q1[1]
	denom := d1x*d2y - d1y*d2x
	if math.Abs(denom) < eps {
		return 0, false
	}
	t := ((q1[0]-p1[0])*d2y - (q1[1]-p1[1])*d2x) / denom
	u := ((q1[0]-p1[0])*d1y - (q1[1]-p1[1])*d1x) / denom
	if t < -eps || t > 1+eps || u < -eps || u > 1+eps {
		return 0, false
	}
	return math.Min(1, math.Max(0, t)), true
}

// segmentCrossing 求两线段的交点坐标
func segmentCrossing(p1, p2, q1, q2 orb.Point, eps float64) (orb.Point, bool) {
	t, ok := segmentIntersectionParam(p1, p2, q1, q2, eps)
	if !ok {
		return orb.Point{}, false
	}
	return interpolate(p1, p2, t), true
}

// collinearOverlap 判断两条共线线段是否有长度非零的重叠部分
func collinearOverlap(p1, p2, q1, q2 orb.Point, eps float64) (orb.LineString, bool) {
	d1x, d1y := p2[0]-p1[0], p2[1]-p1[1]
	d2x, d2y := q2[0]-q1[0], q2[1]-q1[1]
	if math.Abs(d1x*d2y-d1y*d2x) > eps {
		return nil, false
	}
	// q1必须也落在p1p2所在直线上
	if math.Abs((q1[0]-p1[0])*d1y-(q1[1]-p1[1])*d1x) > eps {
		return nil, false
	}
	lenSq := d1x*d1x + d1y*d1y
	if lenSq < eps {
		return nil, false
	}
	proj := func(p orb.Point) float64 {
		return ((p[0]-p1[0])*d1x + (p[1]-p1[1])*d1y) / lenSq
	}
	t0, t1 := proj(q1), proj(q2)
	if t0 > t1 {
		t0, t1 = t1, t0
	}
	lo, hi := math.Max(0, t0), math.Min(1, t1)
	if hi-lo < eps {
		return nil, false
	}
	return orb.LineString{interpolate(p1, p2, lo), interpolate(p1, p2, hi)}, true
}

func pointOnLineString(pt orb.Point, ls orb.LineString, eps float64) bool {
	for i := 0; i+1 < len(ls); i++ {
		if pointOnSegment(pt, ls[i], ls[i+1], eps) {
			return true
		}
	}
	return false
}

func pointOnSegment(pt, a, b orb.Point, eps float64) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	lenSq := dx*dx + dy*dy
	if lenSq < eps*eps {
		return pointsEqual(pt, a, eps)
	}
	t := ((pt[0]-a[0])*dx + (pt[1]-a[1])*dy) / lenSq
	if t < -eps || t > 1+eps {
		return false
	}
	proj := interpolate(a, b, math.Min(1, math.Max(0, t)))
	return pointsEqual(pt, proj, eps)
}
