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

	"github.com/paulmach/orb"
	"github.com/spf13/cast"
)

// GeometryType 图层几何类型（按拓扑维度排序）
type GeometryType int

const (
	UnknownGeometry GeometryType = iota
	PointGeometry
	LineGeometry
	PolygonGeometry
)

func (t GeometryType) String() string {
	switch t {
	case PointGeometry:
		return "POINT"
	case LineGeometry:
		return "LINE"
	case PolygonGeometry:
		return "POLYGON"
	default:
		return "UNKNOWN"
	}
}

// Dimension 返回几何类型的拓扑维度
func (t GeometryType) Dimension() int {
	switch t {
	case PointGeometry:
		return 0
	case LineGeometry:
		return 1
	case PolygonGeometry:
		return 2
	default:
		return -1
	}
}

// GeometryTypeOf 判断orb几何对象所属的图层几何类型，Multi类型归并到基础类型
func GeometryTypeOf(g orb.Geometry) GeometryType {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return PointGeometry
	case orb.LineString, orb.MultiLineString:
		return LineGeometry
	case orb.Polygon, orb.MultiPolygon:
		return PolygonGeometry
	default:
		return UnknownGeometry
	}
}

// FieldType 字段类型
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldReal
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "Integer"
	case FieldReal:
		return "Real"
	default:
		return "String"
	}
}

// Field 字段定义
type Field struct {
	Name string
	Type FieldType
}

// Feature 矢量要素
type Feature struct {
	ID         int64
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

func (f *Feature) GeometryType() GeometryType {
	if f == nil || f.Geometry == nil {
		return UnknownGeometry
	}
	return GeometryTypeOf(f.Geometry)
}

// FieldValueKind 字段取值结果的类别标记
type FieldValueKind int

const (
	// FieldAbsent 要素上不存在该字段
	FieldAbsent FieldValueKind = iota
	// FieldNumeric 字段存在且可按数值读取
	FieldNumeric
	// FieldNonNumeric 字段存在但无法按数值读取
	FieldNonNumeric
)

// FieldValue 带类别标记的字段取值结果，避免用异常表达可恢复的取值失败
type FieldValue struct {
	Kind   FieldValueKind
	Number float64
	Raw    interface{}
}

// FieldValue 按字段名读取要素属性并尝试数值转换
func (f *Feature) FieldValue(name string) FieldValue {
	raw, ok := f.Properties[name]
	if !ok {
		return FieldValue{Kind: FieldAbsent}
	}
	if raw == nil {
		return FieldValue{Kind: FieldNonNumeric}
	}
	n, err := cast.ToFloat64E(raw)
	if err != nil {
		return FieldValue{Kind: FieldNonNumeric, Raw: raw}
	}
	return FieldValue{Kind: FieldNumeric, Number: n, Raw: raw}
}

// VectorLayer 内存矢量图层，单一几何类型
type VectorLayer struct {
	Name     string
	GeomType GeometryType
	CRS      string
	Fields   []Field
	Features []*Feature
}

func (l *VectorLayer) FeatureCount() int {
	return len(l.Features)
}

// FieldIndex 按名称查找字段索引，不存在返回-1
func (l *VectorLayer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (l *VectorLayer) HasField(name string) bool {
	return l.FieldIndex(name) >= 0
}

// ProgressCallback 进度回调函数类型
// 返回值：true继续执行，false取消执行
type ProgressCallback func(complete float64, message string) bool

// 输出表的度量字段名称
const (
	FieldArea       = "AREA"
	FieldLength     = "LENGTH"
	FieldPntCount   = "PNT_COUNT"
	FieldPercentage = "PERCENTAGE"
)

// SummarizeOptions 区域×分类相交汇总配置
type SummarizeOptions struct {
	ZoneFields  []string // 区域图层的分组字段
	ClassFields []string // 分类图层的分组字段，可为空
	SumFields   []string // 按相交比例分摊累加的数值字段，可为空

	ZoneFilter  string // 区域要素过滤表达式，可为空
	ClassFilter string // 分类要素过滤表达式，可为空

	Engine           GeometryEngine // 几何引擎，默认平面引擎
	ProgressCallback ProgressCallback
}

// SummarizeResult 汇总运行结果
type SummarizeResult struct {
	RunID          string
	Destination    string
	RecordCount    int
	SkippedInvalid int // 几何无效被跳过的分类要素数
	SkippedError   int // 处理出错被跳过的分类要素数
}

// IncompatibleGeometryError 区域与分类图层几何维度不兼容的致命错误
type IncompatibleGeometryError struct {
	ZoneType  GeometryType
	ClassType GeometryType
}

func (e *IncompatibleGeometryError) Error() string {
	switch {
	case e.ZoneType == PointGeometry:
		return "class features cannot be polygons or lines when zone features are points"
	case e.ZoneType == LineGeometry:
		return "class features cannot be polygons when zone features are lines"
	default:
		return fmt.Sprintf("higher dimension class features (%s) are not supported for %s zones",
			e.ClassType, e.ZoneType)
	}
}

// FeatureOutcome 单个分类要素累加的处理结果
type FeatureOutcome int

const (
	// FeatureAccumulated 正常累加
	FeatureAccumulated FeatureOutcome = iota
	// FeatureSkippedInvalid 几何无效被跳过
	FeatureSkippedInvalid
	// FeatureSkippedError 处理出错被跳过
	FeatureSkippedError
)
