package Gozonal

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rectPolygon(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{
		{
			{minX, minY},
			{maxX, minY},
			{maxX, maxY},
			{minX, maxY},
			{minX, minY},
		},
	}
}

func newTestLayer(name string, geomType GeometryType, fields []Field, features []*Feature) *VectorLayer {
	return &VectorLayer{
		Name:     name,
		GeomType: geomType,
		CRS:      "EPSG:3857",
		Fields:   fields,
		Features: features,
	}
}

func TestValidateGeometryCompatibility(t *testing.T) {
	cases := []struct {
		zone, class GeometryType
		ok          bool
	}{
		{PolygonGeometry, PolygonGeometry, true},
		{PolygonGeometry, LineGeometry, true},
		{PolygonGeometry, PointGeometry, true},
		{LineGeometry, LineGeometry, true},
		{LineGeometry, PointGeometry, true},
		{PointGeometry, PointGeometry, true},
		{PointGeometry, PolygonGeometry, false},
		{PointGeometry, LineGeometry, false},
		{LineGeometry, PolygonGeometry, false},
	}
	for _, c := range cases {
		err := ValidateGeometryCompatibility(c.zone, c.class)
		if c.ok {
			assert.NoError(t, err, "%s × %s", c.zone, c.class)
		} else {
			var incompatible *IncompatibleGeometryError
			require.Error(t, err, "%s × %s", c.zone, c.class)
			assert.True(t, errors.As(err, &incompatible))
		}
	}
}

func TestGroupFeaturesKeepsFirstSeenOrder(t *testing.T) {
	features := []*Feature{
		{ID: 1, Properties: map[string]interface{}{"LU": "B"}},
		{ID: 2, Properties: map[string]interface{}{"LU": "A"}},
		{ID: 3, Properties: map[string]interface{}{"LU": "B"}},
	}
	groups, err := groupFeatures(features, []string{"LU"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "B", groups[0].key)
	assert.Equal(t, "A", groups[1].key)
	assert.Len(t, groups[0].features, 2)
	assert.Len(t, groups[1].features, 1)
}

func TestGroupFeaturesMissingField(t *testing.T) {
	features := []*Feature{
		{ID: 7, Properties: map[string]interface{}{"LU": "A"}},
	}
	_, err := groupFeatures(features, []string{"MISSING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "缺少分组字段")
}

func TestAccumulateProportionalSum(t *testing.T) {
	engine := NewPlanarEngine()
	cf := &Feature{
		ID:         1,
		Geometry:   rectPolygon(0, 0, 5, 2), // 面积10
		Properties: map[string]interface{}{"POP": 1000},
	}
	acc := newMeasureAccumulator([]string{"POP"})
	outcome := accumulate(engine, 4.0, cf, []string{"POP"}, acc)
	assert.Equal(t, FeatureAccumulated, outcome)
	assert.InDelta(t, 4.0, acc.area, 1e-9)
	assert.InDelta(t, 400.0, acc.sums["POP"], 1e-9)
}

func TestAccumulateSkipsInvalidGeometry(t *testing.T) {
	engine := NewPlanarEngine()
	cf := &Feature{
		ID:       2,
		Geometry: orb.Polygon{{{0, 0}, {5, 0}, {5, 5}}}, // 环未闭合
	}
	acc := newMeasureAccumulator(nil)
	outcome := accumulate(engine, 4.0, cf, nil, acc)
	assert.Equal(t, FeatureSkippedInvalid, outcome)
	assert.True(t, acc.isZero())
}

func TestAccumulateNonNumericSumField(t *testing.T) {
	engine := NewPlanarEngine()
	cf := &Feature{
		ID:         3,
		Geometry:   rectPolygon(0, 0, 5, 2),
		Properties: map[string]interface{}{"POP": "not-a-number"},
	}
	acc := newMeasureAccumulator([]string{"POP"})
	outcome := accumulate(engine, 4.0, cf, []string{"POP"}, acc)
	assert.Equal(t, FeatureAccumulated, outcome)
	assert.Equal(t, 0.0, acc.sums["POP"])
	assert.InDelta(t, 4.0, acc.area, 1e-9)
}

func TestPercentageDenominatorRule(t *testing.T) {
	acc := &measureAccumulator{area: 40}
	// 同类型：分母取区域总度量
	assert.InDelta(t, 40.0, percentage(acc, 100, PolygonGeometry, PolygonGeometry), 1e-9)

	// 类型不同：分母取分类自身维度的累计度量，分子按区域类型为面积0
	accLine := &measureAccumulator{length: 10}
	assert.Equal(t, 0.0, percentage(accLine, 100, PolygonGeometry, LineGeometry))

	// 分母为零时返回0
	empty := newMeasureAccumulator(nil)
	assert.Equal(t, 0.0, percentage(empty, 0, PolygonGeometry, PolygonGeometry))
}

func TestSummarizePolygonPolygon(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 4, 10), Properties: map[string]interface{}{"LU": "A"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU"},
	}, sink)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordCount)
	require.Len(t, sink.Records, 1)

	// 结构：NAME, LU, AREA, PERCENTAGE
	require.Len(t, sink.Fields, 4)
	assert.Equal(t, FieldArea, sink.Fields[2].Name)
	assert.Equal(t, FieldPercentage, sink.Fields[3].Name)

	record := sink.Records[0]
	assert.Equal(t, "Z1", record[0])
	assert.Equal(t, "A", record[1])
	assert.InDelta(t, 40.0, record[2].(float64), 1e-6)
	assert.InDelta(t, 40.0, record[3].(float64), 1e-6)
}

func TestSummarizeSkipsZeroRecords(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
			{ID: 2, Geometry: rectPolygon(100, 100, 110, 110), Properties: map[string]interface{}{"NAME": "Z2"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 5, 5), Properties: map[string]interface{}{"LU": "A"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU"},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordCount)
	require.Len(t, sink.Records, 1)
	assert.Equal(t, "Z1", sink.Records[0][0])
}

func TestSummarizeLineClassInPolygonZone(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("roads", LineGeometry,
		[]Field{{Name: "ROAD", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: orb.LineString{{-5, 5}, {15, 5}}, Properties: map[string]interface{}{"ROAD": "R1"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"ROAD"},
	}, sink)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordCount)

	// 结构：NAME, ROAD, LENGTH, PERCENTAGE
	require.Len(t, sink.Fields, 4)
	assert.Equal(t, FieldLength, sink.Fields[2].Name)

	record := sink.Records[0]
	assert.InDelta(t, 10.0, record[2].(float64), 1e-6)
	// 类型不同，分子按区域类型取面积，为0
	assert.Equal(t, 0.0, record[3].(float64))
}

func TestSummarizePointClassInPolygonZone(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("wells", PointGeometry,
		[]Field{{Name: "W", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: orb.Point{2, 2}, Properties: map[string]interface{}{"W": "a"}},
			{ID: 2, Geometry: orb.Point{8, 8}, Properties: map[string]interface{}{"W": "b"}},
			{ID: 3, Geometry: orb.Point{20, 20}, Properties: map[string]interface{}{"W": "c"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields: []string{"NAME"},
	}, sink)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordCount)

	// 结构：NAME, PNT_COUNT, PERCENTAGE
	require.Len(t, sink.Fields, 3)
	assert.Equal(t, FieldPntCount, sink.Fields[1].Name)

	record := sink.Records[0]
	assert.Equal(t, 2, record[1])
	assert.Equal(t, 0.0, record[2].(float64))
}

func TestSummarizePointZonePointClass(t *testing.T) {
	zones := newTestLayer("zones", PointGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: orb.Point{1, 1}, Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("pts", PointGeometry,
		[]Field{{Name: "K", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: orb.Point{1, 1}, Properties: map[string]interface{}{"K": "a"}},
			{ID: 2, Geometry: orb.Point{3, 3}, Properties: map[string]interface{}{"K": "b"}},
		})

	sink := NewMemorySummarySink("summary")
	_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields: []string{"NAME"},
	}, sink)
	require.NoError(t, err)
	require.Len(t, sink.Records, 1)

	record := sink.Records[0]
	assert.Equal(t, 1, record[1])
	assert.InDelta(t, 100.0, record[2].(float64), 1e-9)
}

func TestSummarizeIncompatibleLayers(t *testing.T) {
	zones := newTestLayer("zones", PointGeometry, nil, nil)
	classes := newTestLayer("classes", PolygonGeometry, nil, nil)

	_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{}, nil)
	require.Error(t, err)
	var incompatible *IncompatibleGeometryError
	assert.True(t, errors.As(err, &incompatible))
	assert.Equal(t, PointGeometry, incompatible.ZoneType)
	assert.Equal(t, PolygonGeometry, incompatible.ClassType)
}

func TestSummarizeMissingSchemaField(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 1, 1), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("classes", PolygonGeometry, nil, nil)

	_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields: []string{"NOPE"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "区域图层缺少字段")
}

func TestSummarizeClassGroupsAndOrder(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 2, 10), Properties: map[string]interface{}{"LU": "B"}},
			{ID: 2, Geometry: rectPolygon(2, 0, 5, 10), Properties: map[string]interface{}{"LU": "A"}},
			{ID: 3, Geometry: rectPolygon(5, 0, 6, 10), Properties: map[string]interface{}{"LU": "B"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU"},
	}, sink)
	require.NoError(t, err)
	require.Equal(t, 2, result.RecordCount)

	// 组顺序与分类要素首次出现顺序一致
	assert.Equal(t, "B", sink.Records[0][1])
	assert.Equal(t, "A", sink.Records[1][1])
	assert.InDelta(t, 30.0, sink.Records[0][2].(float64), 1e-6) // B组面积 20+10
	assert.InDelta(t, 30.0, sink.Records[1][2].(float64), 1e-6)
}

func TestSummarizeDeterministic(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
			{ID: 2, Geometry: rectPolygon(10, 0, 20, 10), Properties: map[string]interface{}{"NAME": "Z2"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(3, 3, 14, 6), Properties: map[string]interface{}{"LU": "A"}},
			{ID: 2, Geometry: rectPolygon(8, 0, 12, 10), Properties: map[string]interface{}{"LU": "B"}},
		})

	run := func() [][]interface{} {
		sink := NewMemorySummarySink("summary")
		_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
			ZoneFields:  []string{"NAME"},
			ClassFields: []string{"LU"},
		}, sink)
		require.NoError(t, err)
		return sink.Records
	}
	first := run()
	second := run()
	assert.Equal(t, first, second)
}

func TestSummarizeZoneFilter(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
			{ID: 2, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z2"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 5, 5), Properties: map[string]interface{}{"LU": "A"}},
		})

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields: []string{"NAME"},
		ZoneFilter: `NAME == "Z1"`,
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordCount)
	assert.Equal(t, "Z1", sink.Records[0][0])
}

func TestSummarizeInvalidFilterExpression(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry, nil, nil)
	classes := newTestLayer("classes", PolygonGeometry, nil, nil)

	_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFilter: "NAME ==",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "区域过滤表达式无效")
}

func TestSummarizeProgressAndCancellation(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
			{ID: 2, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z2"}},
		})
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{{Name: "LU", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 5, 5), Properties: map[string]interface{}{"LU": "A"}},
		})

	var progress []float64
	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU"},
		ProgressCallback: func(complete float64, message string) bool {
			progress = append(progress, complete)
			return true
		},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordCount)
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.InDelta(t, 1.0, progress[len(progress)-1], 1e-9)

	// 取消：第一次回调后返回false，在下一个区域要素边界中止，已写出的记录保持完整
	sink2 := NewMemorySummarySink("summary")
	_, err = SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU"},
		ProgressCallback: func(complete float64, message string) bool {
			return false
		},
	}, sink2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "操作被用户取消")
	assert.Len(t, sink2.Records, 1)
}

func TestSummarizeClassAttributesFromLastExamined(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry,
		[]Field{{Name: "NAME", Type: FieldString}},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 10, 10), Properties: map[string]interface{}{"NAME": "Z1"}},
		})
	// 同组两个要素：后一个不相交，分类属性仍取最后被检查的那个
	classes := newTestLayer("classes", PolygonGeometry,
		[]Field{
			{Name: "LU", Type: FieldString},
			{Name: "TAG", Type: FieldString},
		},
		[]*Feature{
			{ID: 1, Geometry: rectPolygon(0, 0, 4, 10), Properties: map[string]interface{}{"LU": "A", "TAG": "first"}},
			{ID: 2, Geometry: rectPolygon(100, 100, 104, 110), Properties: map[string]interface{}{"LU": "A", "TAG": "last"}},
		})

	sink := NewMemorySummarySink("summary")
	_, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{
		ZoneFields:  []string{"NAME"},
		ClassFields: []string{"LU", "TAG"},
	}, sink)
	require.NoError(t, err)
	require.Len(t, sink.Records, 1)
	assert.Equal(t, "last", sink.Records[0][2])
}

func TestSummarizeEmptyInputs(t *testing.T) {
	zones := newTestLayer("zones", PolygonGeometry, nil, nil)
	classes := newTestLayer("classes", PolygonGeometry, nil, nil)

	sink := NewMemorySummarySink("summary")
	result, err := SummarizeZonalIntersections(zones, classes, &SummarizeOptions{}, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RecordCount)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "summary", result.Destination)
}
