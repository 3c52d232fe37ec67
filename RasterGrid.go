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
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GeoTransform 栅格地理变换参数，原点为左上角坐标，像元尺寸取正值
type GeoTransform struct {
	OriginX    float64
	OriginY    float64
	PixelSizeX float64
	PixelSizeY float64
}

// RasterGrid 单波段float64栅格
type RasterGrid struct {
	Data         *mat.Dense
	Transform    GeoTransform
	HasTransform bool
	NoData       float64
	HasNoData    bool
}

func NewRasterGrid(width, height int) *RasterGrid {
	return &RasterGrid{Data: mat.NewDense(height, width, nil)}
}

func (g *RasterGrid) Width() int {
	_, c := g.Data.Dims()
	return c
}

func (g *RasterGrid) Height() int {
	r, _ := g.Data.Dims()
	return r
}

func (g *RasterGrid) At(row, col int) float64 {
	return g.Data.At(row, col)
}

func (g *RasterGrid) Set(row, col int, v float64) {
	g.Data.Set(row, col, v)
}

// LoadRasterGrid 从影像文件读取栅格，取亮度作为像元值（0-255）。
// 同名世界文件存在时一并读取地理变换。
func LoadRasterGrid(path string) (*RasterGrid, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开栅格文件失败: %v", err)
	}
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	grid := NewRasterGrid(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, _, _, _ := gray.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			grid.Set(y, x, float64(r>>8))
		}
	}

	wf := worldFilePath(path)
	if _, statErr := os.Stat(wf); statErr == nil {
		transform, wfErr := ReadWorldFile(wf)
		if wfErr != nil {
			return nil, wfErr
		}
		grid.Transform = transform
		grid.HasTransform = true
	}
	return grid, nil
}

// worldFilePath 根据影像扩展名推导世界文件路径
func worldFilePath(imagePath string) string {
	ext := strings.ToLower(filepath.Ext(imagePath))
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	switch ext {
	case ".tif", ".tiff":
		return base + ".tfw"
	case ".png":
		return base + ".pgw"
	case ".jpg", ".jpeg":
		return base + ".jgw"
	default:
		return base + ".wld"
	}
}

// ReadWorldFile 读取ESRI世界文件。
// 六行依次为A,D,B,E,C,F，其中C,F是左上角像元中心坐标。
func ReadWorldFile(path string) (GeoTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GeoTransform{}, fmt.Errorf("读取世界文件失败: %v", err)
	}
	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return GeoTransform{}, fmt.Errorf("世界文件格式无效: %s", path)
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, parseErr := strconv.ParseFloat(lines[i], 64)
		if parseErr != nil {
			return GeoTransform{}, fmt.Errorf("世界文件格式无效: %v", parseErr)
		}
		vals[i] = v
	}
	pixelX := vals[0]
	pixelY := -vals[3]
	return GeoTransform{
		OriginX:    vals[4] - pixelX/2,
		OriginY:    vals[5] + pixelY/2,
		PixelSizeX: pixelX,
		PixelSizeY: pixelY,
	}, nil
}

// WriteWorldFile 写出ESRI世界文件
func WriteWorldFile(path string, t GeoTransform) error {
	content := fmt.Sprintf("%.10f\n0.0\n0.0\n%.10f\n%.10f\n%.10f\n",
		t.PixelSizeX, -t.PixelSizeY,
		t.OriginX+t.PixelSizeX/2, t.OriginY-t.PixelSizeY/2)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("写入世界文件失败: %v", err)
	}
	return nil
}

// SaveBinaryRaster 把栅格按0-255灰度写出为影像文件，带变换时同时写世界文件
func SaveBinaryRaster(grid *RasterGrid, path string) error {
	h, w := grid.Data.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := grid.At(y, x)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("保存栅格文件失败: %v", err)
	}
	if grid.HasTransform {
		return WriteWorldFile(worldFilePath(path), grid.Transform)
	}
	return nil
}

// GridStatistics 波段统计结果
type GridStatistics struct {
	Min        float64
	Max        float64
	Mean       float64
	StdDev     float64
	ValidCount int
}

// ComputeGridStatistics 计算有效像元的统计值，跳过NoData与NaN
func ComputeGridStatistics(grid *RasterGrid) (*GridStatistics, error) {
	h, w := grid.Data.Dims()
	values := make([]float64, 0, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := grid.At(y, x)
			if math.IsNaN(v) {
				continue
			}
			if grid.HasNoData && v == grid.NoData {
				continue
			}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("栅格中没有有效像素")
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return &GridStatistics{
		Min:        floats.Min(values),
		Max:        floats.Max(values),
		Mean:       mean,
		StdDev:     std,
		ValidCount: len(values),
	}, nil
}
