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
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// allGroupKey 分类图层无分组字段时的统一分组键
const allGroupKey = "ALL"

// featureGroup 按字段值分组后的要素集合
type featureGroup struct {
	key      string
	features []*Feature
}

// ValidateGeometryCompatibility 校验区域与分类图层的几何维度兼容性。
// 分类维度不得高于区域维度，相同维度总是允许。
func ValidateGeometryCompatibility(zoneType, classType GeometryType) error {
	if zoneType == UnknownGeometry || classType == UnknownGeometry {
		return fmt.Errorf("无法识别的图层几何类型: %s × %s", zoneType, classType)
	}
	if zoneType == PointGeometry {
		if classType == PolygonGeometry || classType == LineGeometry {
			return &IncompatibleGeometryError{ZoneType: zoneType, ClassType: classType}
		}
	}
	if zoneType == LineGeometry {
		if classType == PolygonGeometry {
			return &IncompatibleGeometryError{ZoneType: zoneType, ClassType: classType}
		}
	}
	if classType.Dimension() > zoneType.Dimension() {
		return &IncompatibleGeometryError{ZoneType: zoneType, ClassType: classType}
	}
	return nil
}

// groupFeatures 按字段值把要素分组，组顺序与要素首次出现顺序一致
func groupFeatures(features []*Feature, fields []string) ([]*featureGroup, error) {
	groups := make([]*featureGroup, 0)
	index := make(map[string]*featureGroup)
	var sb strings.Builder
	for _, f := range features {
		sb.Reset()
		for i, name := range fields {
			v, ok := f.Properties[name]
			if !ok {
				return nil, fmt.Errorf("要素 %d 缺少分组字段 %s", f.ID, name)
			}
			if i > 0 {
				sb.WriteByte('\x1f')
			}
			fmt.Fprintf(&sb, "%v", v)
		}
		key := sb.String()
		g, ok := index[key]
		if !ok {
			g = &featureGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.features = append(g.features, f)
	}
	return groups, nil
}

// totalMeasure 几何对象在其图层类型下的总度量：面→面积，线→长度，点→1
func totalMeasure(engine GeometryEngine, g orb.Geometry, t GeometryType) float64 {
	switch t {
	case PolygonGeometry:
		return engine.Area(g)
	case LineGeometry:
		return engine.Length(g)
	case PointGeometry:
		return 1
	default:
		return 0
	}
}

// intersectionMeasure 交集几何的度量，按图层类型组合选择面积/长度/计数
func intersectionMeasure(engine GeometryEngine, inter orb.Geometry, zoneType, classType GeometryType) float64 {
	if zoneType == PolygonGeometry && classType == PolygonGeometry {
		return engine.Area(inter)
	}
	if classType == LineGeometry {
		return engine.Length(inter)
	}
	if classType == PointGeometry {
		return 1
	}
	return 0
}

// measureAccumulator 单个区域要素×分类组的累加器
type measureAccumulator struct {
	area     float64
	length   float64
	pntCount int
	sums     map[string]float64
}

func newMeasureAccumulator(sumFields []string) *measureAccumulator {
	acc := &measureAccumulator{sums: make(map[string]float64, len(sumFields))}
	for _, f := range sumFields {
		acc.sums[f] = 0
	}
	return acc
}

func (a *measureAccumulator) isZero() bool {
	return a.area == 0 && a.length == 0 && a.pntCount == 0
}

// accumulate 把一次相交的度量累加进累加器。
// 几何无效的分类要素整体跳过；无法转数值的求和字段按零贡献跳过该字段。
func accumulate(engine GeometryEngine, measure float64, cf *Feature, sumFields []string, acc *measureAccumulator) FeatureOutcome {
	if cf.Geometry == nil || !engine.IsValid(cf.Geometry) {
		return FeatureSkippedInvalid
	}
	switch cf.GeometryType() {
	case PolygonGeometry:
		acc.area += measure
	case LineGeometry:
		acc.length += measure
	case PointGeometry:
		acc.pntCount += int(measure)
	}
	for _, field := range sumFields {
		fv := cf.FieldValue(field)
		if fv.Kind != FieldNumeric {
			continue
		}
		total := totalMeasure(engine, cf.Geometry, cf.GeometryType())
		proportion := 0.0
		if total != 0 {
			proportion = measure / total
		}
		acc.sums[field] += fv.Number * proportion
	}
	return FeatureAccumulated
}

// percentage 计算占比。分子按区域类型取度量；
// 分母在图层类型相同时取区域总度量，否则取分类自身维度的累计度量。
func percentage(acc *measureAccumulator, zoneTotal float64, zoneType, classType GeometryType) float64 {
	var denominator float64
	if zoneType == classType {
		denominator = zoneTotal
	} else if classType == PolygonGeometry {
		denominator = acc.area
	} else {
		denominator = acc.length
	}
	if denominator == 0 {
		return 0.0
	}
	var value float64
	switch zoneType {
	case PolygonGeometry:
		value = acc.area
	case LineGeometry:
		value = acc.length
	default:
		value = float64(acc.pntCount)
	}
	return (value / denominator) * 100
}

// buildOutputSchema 生成输出表结构：区域字段、分类字段、条件度量字段、占比字段
func buildOutputSchema(zones, classes *VectorLayer, opts *SummarizeOptions) ([]Field, error) {
	fields := make([]Field, 0, len(opts.ZoneFields)+len(opts.ClassFields)+4)
	for _, name := range opts.ZoneFields {
		idx := zones.FieldIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("区域图层缺少字段 %s", name)
		}
		fields = append(fields, zones.Fields[idx])
	}
	for _, name := range opts.ClassFields {
		idx := classes.FieldIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("分类图层缺少字段 %s", name)
		}
		fields = append(fields, classes.Fields[idx])
	}
	if zones.GeomType == PolygonGeometry && classes.GeomType == PolygonGeometry {
		fields = append(fields, Field{Name: FieldArea, Type: FieldReal})
	}
	if classes.GeomType == LineGeometry {
		fields = append(fields, Field{Name: FieldLength, Type: FieldReal})
	}
	if classes.GeomType == PointGeometry {
		fields = append(fields, Field{Name: FieldPntCount, Type: FieldInteger})
	}
	fields = append(fields, Field{Name: FieldPercentage, Type: FieldReal})
	return fields, nil
}

// SummarizeZonalIntersections 对区域图层与分类图层做相交汇总。
// 每个区域要素×分类组产出一条记录（全零记录不输出），
// 进度回调返回false时在下一个区域要素边界取消，已输出的记录保持完整。
func SummarizeZonalIntersections(zones, classes *VectorLayer, opts *SummarizeOptions, sink SummarySink) (*SummarizeResult, error) {
	if zones == nil || classes == nil {
		return nil, fmt.Errorf("区域图层与分类图层不能为空")
	}
	if opts == nil {
		opts = &SummarizeOptions{}
	}
	if err := ValidateGeometryCompatibility(zones.GeomType, classes.GeomType); err != nil {
		return nil, err
	}

	engine := opts.Engine
	if engine == nil {
		engine = NewPlanarEngine()
	}

	zoneFeatures := zones.Features
	if opts.ZoneFilter != "" {
		var err error
		zoneFeatures, err = FilterFeatures(zoneFeatures, opts.ZoneFilter)
		if err != nil {
			return nil, fmt.Errorf("区域过滤表达式无效: %v", err)
		}
	}
	classFeatures := classes.Features
	if opts.ClassFilter != "" {
		var err error
		classFeatures, err = FilterFeatures(classFeatures, opts.ClassFilter)
		if err != nil {
			return nil, fmt.Errorf("分类过滤表达式无效: %v", err)
		}
	}

	schema, err := buildOutputSchema(zones, classes, opts)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NewMemorySummarySink("summary")
	}
	if err := sink.CreateSchema(schema); err != nil {
		return nil, fmt.Errorf("创建输出结构失败: %v", err)
	}

	zoneGroups, err := groupFeatures(zoneFeatures, opts.ZoneFields)
	if err != nil {
		return nil, err
	}
	var classGroups []*featureGroup
	if len(opts.ClassFields) > 0 {
		classGroups, err = groupFeatures(classFeatures, opts.ClassFields)
		if err != nil {
			return nil, err
		}
	} else {
		classGroups = []*featureGroup{{key: allGroupKey, features: classFeatures}}
	}

	result := &SummarizeResult{
		RunID:       uuid.New().String(),
		Destination: sink.Destination(),
	}

	totalPairs := len(zoneFeatures) * len(classGroups)
	if totalPairs == 0 {
		totalPairs = 1
	}
	current := 0
	cancelled := false

	for _, zg := range zoneGroups {
		for _, zf := range zg.features {
			if cancelled {
				return nil, fmt.Errorf("操作被用户取消")
			}
			zoneGeom := zf.Geometry
			zoneTotal := totalMeasure(engine, zoneGeom, zones.GeomType)

			for _, cg := range classGroups {
				acc := newMeasureAccumulator(opts.SumFields)
				var lastExamined *Feature

				for _, cf := range cg.features {
					lastExamined = cf
					if cf.Geometry == nil || zoneGeom == nil {
						continue
					}
					if !zoneGeom.Bound().Intersects(cf.Geometry.Bound()) {
						continue
					}
					inter, interErr := engine.Intersection(zoneGeom, cf.Geometry)
					if interErr != nil {
						result.SkippedError++
						log.Printf("处理要素 %d 失败: %v", cf.ID, interErr)
						continue
					}
					if geometryIsEmpty(inter) {
						continue
					}
					measure := intersectionMeasure(engine, inter, zones.GeomType, classes.GeomType)
					switch accumulate(engine, measure, cf, opts.SumFields, acc) {
					case FeatureSkippedInvalid:
						result.SkippedInvalid++
					case FeatureSkippedError:
						result.SkippedError++
					}
				}

				pct := percentage(acc, zoneTotal, zones.GeomType, classes.GeomType)

				current++
				if opts.ProgressCallback != nil {
					if !opts.ProgressCallback(float64(current)/float64(totalPairs),
						fmt.Sprintf("已处理 %d/%d", current, totalPairs)) {
						cancelled = true
					}
				}

				if acc.isZero() && pct == 0 {
					continue
				}

				record := make([]interface{}, 0, len(schema))
				for _, name := range opts.ZoneFields {
					record = append(record, zf.Properties[name])
				}
				// 分类属性取自该组最后一个被检查的要素，与几何是否相交无关
				for _, name := range opts.ClassFields {
					if lastExamined != nil {
						record = append(record, lastExamined.Properties[name])
					} else {
						record = append(record, nil)
					}
				}
				if zones.GeomType == PolygonGeometry && classes.GeomType == PolygonGeometry {
					record = append(record, acc.area)
				}
				if classes.GeomType == LineGeometry {
					record = append(record, acc.length)
				}
				if classes.GeomType == PointGeometry {
					record = append(record, acc.pntCount)
				}
				record = append(record, pct)

				if err := sink.AddRecord(record); err != nil {
					return nil, fmt.Errorf("写入输出记录失败: %v", err)
				}
				result.RecordCount++
			}
		}
	}

	return result, nil
}
