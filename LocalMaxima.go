package Gozonal

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blur"
)

// LocalMaximaOptions 局部极大值检测配置
type LocalMaximaOptions struct {
	// NeighborhoodSize 极大值之间的最小像素距离，1-15，默认3
	NeighborhoodSize int
	// SmoothRadius 检测前的高斯平滑半径，0表示不平滑
	SmoothRadius float64
	// Threshold 低于该值的像元不参与检测，未设置时取栅格最小值
	Threshold    float64
	HasThreshold bool
	// ExcludeBorder 为true时跳过距边界NeighborhoodSize以内的像元
	ExcludeBorder bool
}

// DetectLocalMaxima 检测栅格中的局部极大值。
// 先做滑动窗口最大值筛选候选点，再按值降序做最小距离抑制，
// 输出二值栅格，极大值处为255，地理参考与输入一致。
func DetectLocalMaxima(grid *RasterGrid, options *LocalMaximaOptions) (*RasterGrid, error) {
	if grid == nil || grid.Data == nil {
		return nil, fmt.Errorf("无效的栅格数据")
	}
	if options == nil {
		options = &LocalMaximaOptions{}
	}
	size := options.NeighborhoodSize
	if size == 0 {
		size = 3
	}
	if size < 1 || size > 15 {
		return nil, fmt.Errorf("邻域大小超出范围: %d (1-15)", size)
	}

	work := grid
	if options.SmoothRadius > 0 {
		work = smoothGrid(grid, options.SmoothRadius)
	}

	h, w := work.Data.Dims()
	stats, err := ComputeGridStatistics(work)
	if err != nil {
		return nil, err
	}
	threshold := stats.Min
	if options.HasThreshold {
		threshold = options.Threshold
	}

	type candidate struct {
		row, col int
		value    float64
	}
	var candidates []candidate
	border := 0
	if options.ExcludeBorder {
		border = size
	}
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			v := work.At(y, x)
			if math.IsNaN(v) || v <= threshold {
				continue
			}
			if work.HasNoData && v == work.NoData {
				continue
			}
			if v == windowMaximum(work, y, x, size) {
				candidates = append(candidates, candidate{row: y, col: x, value: v})
			}
		}
	}

	// 值相同时保持扫描顺序，保证结果可复现
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].value > candidates[j].value
	})

	var accepted []candidate
	minDist := float64(size)
	for _, c := range candidates {
		ok := true
		for _, a := range accepted {
			if math.Hypot(float64(c.row-a.row), float64(c.col-a.col)) < minDist {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, c)
		}
	}

	out := NewRasterGrid(w, h)
	out.Transform = grid.Transform
	out.HasTransform = grid.HasTransform
	for _, a := range accepted {
		out.Set(a.row, a.col, 255)
	}
	return out, nil
}

// windowMaximum 以(row,col)为中心、半径radius的窗口内的最大值
func windowMaximum(grid *RasterGrid, row, col, radius int) float64 {
	h, w := grid.Data.Dims()
	maxV := math.Inf(-1)
	for y := row - radius; y <= row+radius; y++ {
		if y < 0 || y >= h {
			continue
		}
		for x := col - radius; x <= col+radius; x++ {
			if x < 0 || x >= w {
				continue
			}
			v := grid.At(y, x)
			if math.IsNaN(v) {
				continue
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	return maxV
}

// smoothGrid 把栅格缩放到0-255灰度做高斯平滑后再映射回原值域。
// 值域为零（全平）时直接返回原栅格。
func smoothGrid(grid *RasterGrid, radius float64) *RasterGrid {
	stats, err := ComputeGridStatistics(grid)
	if err != nil {
		return grid
	}
	span := stats.Max - stats.Min
	if span == 0 {
		return grid
	}

	h, w := grid.Data.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			scaled := (grid.At(y, x) - stats.Min) / span * 255
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(scaled))})
		}
	}

	blurred := blur.Gaussian(img, radius)

	out := NewRasterGrid(w, h)
	out.Transform = grid.Transform
	out.HasTransform = grid.HasTransform
	out.NoData = grid.NoData
	out.HasNoData = grid.HasNoData
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := blurred.At(x, y).RGBA()
			out.Set(y, x, float64(r>>8)/255*span+stats.Min)
		}
	}
	return out
}
