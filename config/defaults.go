package config

import (
	"image"

	"gocv.io/x/gocv"
)

// Default returns the tuning used on the 1280x720 BGRA camera of the test vehicle.
//
// The fallback points sit 600 px either side of the vehicle axis at the same
// forward offset so that total detection loss steers straight ahead.
func Default() Config {
	return Config{
		Frame: FrameConfig{Width: 1280, Height: 720, Channels: 4},
		Pipeline: PipelineConfig{
			Crop:        image.Rect(40, 300, 1240, 720),
			WorkingSize: image.Pt(600, 210),
			Occlusion: Occlusion{
				Center: image.Pt(300, 210),
				Axes:   image.Pt(280, 55),
			},
			ClassA: ColorRange{
				Name: "blue",
				Low:  [3]uint8{110, 50, 50},
				High: [3]uint8{130, 255, 255},
			},
			ClassB: ColorRange{
				Name: "yellow",
				Low:  [3]uint8{15, 50, 50},
				High: [3]uint8{40, 255, 255},
			},
			Dilate:        5,
			Erode:         5,
			Kernel:        KernelRect,
			CannyLow:      30,
			CannyHigh:     90,
			Retrieval:     RetrievalExternal,
			ApproxEpsilon: 3,
			LookAhead:     150,
			Origin:        gocv.Point2f{X: 300, Y: 210},
			FallbackA:     gocv.Point2f{X: -300, Y: 150},
			FallbackB:     gocv.Point2f{X: 900, Y: 150},
			Sign:          LeftPositive,
		},
		Transport: TransportConfig{CID: 112},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}
