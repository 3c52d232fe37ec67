package Gozonal

import (
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"
)

// LoadGeoJSONLayer 从GeoJSON文件读取矢量图层
func LoadGeoJSONLayer(path string, name string) (*VectorLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取GeoJSON文件失败: %v", err)
	}
	return ParseGeoJSONLayer(data, name)
}

// ParseGeoJSONLayer 解析GeoJSON要素集合为单一几何类型的图层。
// 图层几何类型取自要素，混合维度视为错误。
func ParseGeoJSONLayer(data []byte, name string) (*VectorLayer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("解析GeoJSON失败: %v", err)
	}

	layer := &VectorLayer{
		Name:     name,
		GeomType: UnknownGeometry,
		CRS:      "EPSG:4326",
	}
	seen := make(map[string]bool)

	for i, gf := range fc.Features {
		if gf.Geometry == nil {
			continue
		}
		gt := GeometryTypeOf(gf.Geometry)
		if gt == UnknownGeometry {
			return nil, fmt.Errorf("不支持的几何类型: %v", gf.Geometry.GeoJSONType())
		}
		if layer.GeomType == UnknownGeometry {
			layer.GeomType = gt
		} else if layer.GeomType != gt {
			return nil, fmt.Errorf("图层包含混合几何类型: %v 与 %v", layer.GeomType, gt)
		}

		props := make(map[string]interface{}, len(gf.Properties))
		names := make([]string, 0, len(gf.Properties))
		for k := range gf.Properties {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			v := gf.Properties[k]
			props[k] = v
			if !seen[k] {
				seen[k] = true
				layer.Fields = append(layer.Fields, Field{Name: k, Type: inferFieldType(v)})
			}
		}

		layer.Features = append(layer.Features, &Feature{
			ID:         int64(i + 1),
			Geometry:   gf.Geometry,
			Properties: props,
		})
	}

	return layer, nil
}

func inferFieldType(v interface{}) FieldType {
	switch v.(type) {
	case int, int32, int64:
		return FieldInteger
	case float32, float64:
		return FieldReal
	default:
		return FieldString
	}
}

// SaveGeoJSONLayer 把图层写出为GeoJSON文件
func SaveGeoJSONLayer(layer *VectorLayer, path string) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range layer.Features {
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("序列化GeoJSON失败: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入GeoJSON文件失败: %v", err)
	}
	return nil
}
