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
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// TileSplitOptions 训练样本切片配置
type TileSplitOptions struct {
	TileSize int // 切片边长（像素），默认512
	Overlap  int // 相邻切片重叠像素，默认128

	TrainSplit float64 // 训练集比例，默认0.7
	ValSplit   float64 // 验证集比例，默认0.2
	TestSplit  float64 // 测试集比例，默认0.1

	RemoveEmptyTiles          bool // 跳过影像全零的切片
	RemoveBackgroundOnlyTiles bool // 跳过掩膜全零的切片

	Seed       int64 // 随机种子，0表示按时间取种
	MaxWorkers int   // 写出协程数，0表示取配置或CPU核数

	ProgressCallback ProgressCallback
}

// DefaultTileSplitOptions 返回默认配置
func DefaultTileSplitOptions() *TileSplitOptions {
	return &TileSplitOptions{
		TileSize:                  512,
		Overlap:                   128,
		TrainSplit:                0.7,
		ValSplit:                  0.2,
		TestSplit:                 0.1,
		RemoveEmptyTiles:          true,
		RemoveBackgroundOnlyTiles: true,
	}
}

// TileSplitResult 切片任务结果
type TileSplitResult struct {
	TaskID     string
	TotalTiles int
	TrainCount int
	ValCount   int
	TestCount  int
	OutputDir  string
}

// tileTask 单个切片的写出任务
type tileTask struct {
	index        int
	split        string
	name         string
	image        image.Image
	mask         image.Image
	transform    GeoTransform
	hasTransform bool
}

type tileTaskResult struct {
	index int
	err   error
}

// GenerateTrainingTiles 把影像与掩膜按固定窗口切片并划分训练/验证/测试集。
// 切片保存为 <输出目录>/<split>/{images,masks}/tile_N.tif，
// 源影像带世界文件时为每个切片写出对应的世界文件。
func GenerateTrainingTiles(imagePath, maskPath, outputDir string, opts *TileSplitOptions) (*TileSplitResult, error) {
	if opts == nil {
		opts = DefaultTileSplitOptions()
	}
	tileSize := opts.TileSize
	if tileSize <= 0 {
		tileSize = 512
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= tileSize {
		return nil, fmt.Errorf("重叠像素不能大于等于切片大小")
	}
	if math.Abs(opts.TrainSplit+opts.ValSplit+opts.TestSplit-1.0) > 1e-6 {
		return nil, fmt.Errorf("训练/验证/测试比例之和必须为1")
	}
	if outputDir == "" {
		outputDir = MainConfig.OutputDir
	}
	if outputDir == "" {
		return nil, fmt.Errorf("输出目录未设置")
	}

	srcImage, err := imaging.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("打开影像文件失败: %v", err)
	}
	srcMask, err := imaging.Open(maskPath)
	if err != nil {
		return nil, fmt.Errorf("打开掩膜文件失败: %v", err)
	}

	ib, mb := srcImage.Bounds(), srcMask.Bounds()
	if ib.Dx() != mb.Dx() || ib.Dy() != mb.Dy() {
		return nil, fmt.Errorf("影像与掩膜尺寸不一致: %dx%d vs %dx%d",
			ib.Dx(), ib.Dy(), mb.Dx(), mb.Dy())
	}
	if ib.Dx() < tileSize || ib.Dy() < tileSize {
		return nil, fmt.Errorf("影像尺寸小于切片大小: %dx%d", ib.Dx(), ib.Dy())
	}

	var srcTransform GeoTransform
	hasTransform := false
	if _, statErr := os.Stat(worldFilePath(imagePath)); statErr == nil {
		srcTransform, err = ReadWorldFile(worldFilePath(imagePath))
		if err != nil {
			return nil, err
		}
		hasTransform = true
	}

	stride := tileSize - overlap
	width, height := ib.Dx(), ib.Dy()

	// 收集有效切片
	type collectedTile struct {
		image        image.Image
		mask         image.Image
		transform    GeoTransform
		hasTransform bool
	}
	var tiles []collectedTile
	totalWindows := ((height-tileSize)/stride + 1) * ((width-tileSize)/stride + 1)
	examined := 0
	for y := 0; y+tileSize <= height; y += stride {
		for x := 0; x+tileSize <= width; x += stride {
			examined++
			if opts.ProgressCallback != nil {
				if !opts.ProgressCallback(float64(examined)/float64(totalWindows)/2,
					fmt.Sprintf("正在提取切片 %d/%d", examined, totalWindows)) {
					return nil, fmt.Errorf("操作被用户取消")
				}
			}
			rect := image.Rect(x, y, x+tileSize, y+tileSize)
			tileImg := imaging.Crop(srcImage, rect)
			tileMask := imaging.Crop(srcMask, rect)

			if opts.RemoveEmptyTiles && imageAllZero(tileImg) {
				continue
			}
			if opts.RemoveBackgroundOnlyTiles && imageAllZero(tileMask) {
				continue
			}

			t := collectedTile{image: tileImg, mask: tileMask}
			if hasTransform {
				t.hasTransform = true
				t.transform = GeoTransform{
					OriginX:    srcTransform.OriginX + float64(x)*srcTransform.PixelSizeX,
					OriginY:    srcTransform.OriginY - float64(y)*srcTransform.PixelSizeY,
					PixelSizeX: srcTransform.PixelSizeX,
					PixelSizeY: srcTransform.PixelSizeY,
				}
			}
			tiles = append(tiles, t)
		}
	}
	log.Printf("有效切片总数: %d", len(tiles))

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(tiles), func(i, j int) {
		tiles[i], tiles[j] = tiles[j], tiles[i]
	})

	nTotal := len(tiles)
	nTrain := int(float64(nTotal) * opts.TrainSplit)
	nVal := int(float64(nTotal) * opts.ValSplit)
	nTest := nTotal - nTrain - nVal
	log.Printf("训练: %d | 验证: %d | 测试: %d", nTrain, nVal, nTest)

	for _, split := range []string{"train", "val", "test"} {
		for _, sub := range []string{"images", "masks"} {
			if err := os.MkdirAll(filepath.Join(outputDir, split, sub), 0755); err != nil {
				return nil, fmt.Errorf("创建输出目录失败: %v", err)
			}
		}
	}

	tasks := make([]tileTask, 0, nTotal)
	for i, t := range tiles {
		split := "test"
		if i < nTrain {
			split = "train"
		} else if i < nTrain+nVal {
			split = "val"
		}
		tasks = append(tasks, tileTask{
			index:        i,
			split:        split,
			name:         fmt.Sprintf("tile_%d", i),
			image:        t.image,
			mask:         t.mask,
			transform:    t.transform,
			hasTransform: t.hasTransform,
		})
	}

	if err := writeTilesConcurrently(tasks, outputDir, opts); err != nil {
		return nil, err
	}

	result := &TileSplitResult{
		TaskID:     uuid.New().String(),
		TotalTiles: nTotal,
		TrainCount: nTrain,
		ValCount:   nVal,
		TestCount:  nTest,
		OutputDir:  outputDir,
	}
	log.Printf("切片任务完成: %s，共 %d 个切片", result.TaskID, nTotal)
	return result, nil
}

// writeTilesConcurrently 用固定数量的工作协程写出切片
func writeTilesConcurrently(tasks []tileTask, outputDir string, opts *TileSplitOptions) error {
	totalTasks := len(tasks)
	if totalTasks == 0 {
		return nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = MainConfig.MaxWorkers
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	taskQueue := make(chan tileTask, totalTasks)
	results := make(chan tileTaskResult, totalTasks)

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go tileWriter(taskQueue, results, outputDir, &wg)
	}

	go func() {
		for _, task := range tasks {
			taskQueue <- task
		}
		close(taskQueue)
	}()

	var writeError error
	completed := 0
	for i := 0; i < totalTasks; i++ {
		result := <-results
		completed++
		if result.err != nil {
			writeError = fmt.Errorf("切片 %d 写出失败: %v", result.index, result.err)
			log.Printf("错误: %v", writeError)
		}
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(0.5+float64(completed)/float64(totalTasks)/2,
				fmt.Sprintf("正在保存切片 %d/%d", completed, totalTasks))
		}
	}

	wg.Wait()
	close(results)
	return writeError
}

func tileWriter(taskQueue <-chan tileTask, results chan<- tileTaskResult, outputDir string, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range taskQueue {
		err := saveTile(task, outputDir)
		results <- tileTaskResult{index: task.index, err: err}
	}
}

func saveTile(task tileTask, outputDir string) error {
	imgPath := filepath.Join(outputDir, task.split, "images", task.name+".tif")
	maskPath := filepath.Join(outputDir, task.split, "masks", task.name+".tif")
	if err := imaging.Save(task.image, imgPath); err != nil {
		return fmt.Errorf("保存影像切片失败: %v", err)
	}
	if err := imaging.Save(task.mask, maskPath); err != nil {
		return fmt.Errorf("保存掩膜切片失败: %v", err)
	}
	if task.hasTransform {
		if err := WriteWorldFile(worldFilePath(imgPath), task.transform); err != nil {
			return err
		}
		if err := WriteWorldFile(worldFilePath(maskPath), task.transform); err != nil {
			return err
		}
	}
	return nil
}

// imageAllZero 判断图像RGB是否全为零，不考虑alpha通道
func imageAllZero(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != 0 || g != 0 || bl != 0 {
				return false
			}
		}
	}
	return true
}
