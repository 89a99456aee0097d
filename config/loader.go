package config

import (
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

// maxFileSize bounds the configuration file read at startup.
const maxFileSize = 1 << 20

type fileDTO struct {
	Frame     frameDTO     `yaml:"frame"`
	Pipeline  pipelineDTO  `yaml:"pipeline"`
	Transport transportDTO `yaml:"transport"`
	Log       logDTO       `yaml:"log"`
	Status    statusDTO    `yaml:"status"`
	Recorder  recorderDTO  `yaml:"recorder"`
	Verbose   bool         `yaml:"verbose"`
}

type frameDTO struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Channels int `yaml:"channels"`
}

type rectDTO struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type sizeDTO struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type occlusionDTO struct {
	Center []int `yaml:"center,flow"`
	Axes   []int `yaml:"axes,flow"`
}

type colorDTO struct {
	Name string `yaml:"name"`
	Low  string `yaml:"low"`
	High string `yaml:"high"`
}

type classesDTO struct {
	A colorDTO `yaml:"a"`
	B colorDTO `yaml:"b"`
}

type cannyDTO struct {
	Low  float32 `yaml:"low"`
	High float32 `yaml:"high"`
}

type fallbackDTO struct {
	A []float32 `yaml:"a,flow"`
	B []float32 `yaml:"b,flow"`
}

type pipelineDTO struct {
	Crop          rectDTO      `yaml:"crop"`
	Working       sizeDTO      `yaml:"working"`
	Occlusion     occlusionDTO `yaml:"occlusion"`
	Classes       classesDTO   `yaml:"classes"`
	Dilate        int          `yaml:"dilate"`
	Erode         int          `yaml:"erode"`
	Kernel        string       `yaml:"kernel"`
	Canny         cannyDTO     `yaml:"canny"`
	Retrieval     string       `yaml:"retrieval"`
	ApproxEpsilon float64      `yaml:"approx_epsilon"`
	LookAhead     float64      `yaml:"look_ahead"`
	Origin        []float32    `yaml:"origin,flow"`
	Fallback      fallbackDTO  `yaml:"fallback"`
	Sign          string       `yaml:"sign"`
}

type transportDTO struct {
	CID             int    `yaml:"cid"`
	SenderStamp     uint32 `yaml:"sender_stamp"`
	SteeringRequest bool   `yaml:"steering_request"`
}

type logDTO struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type statusDTO struct {
	Addr string `yaml:"addr"`
}

type recorderDTO struct {
	Path       string `yaml:"path"`
	PreviewDir string `yaml:"preview_dir"`
}

// Load reads a YAML file on top of Default and validates the result.
// Keys absent from the file keep their default value.
//
// Arguments:
//   - path: Path to a .yaml or .yml file.
//
// Returns:
//   - Config: The validated configuration.
//   - error: Wrapping ErrInvalidConfig on malformed content, or the I/O error.
func Load(path string) (Config, error) {
	clean := filepath.Clean(path)
	switch filepath.Ext(clean) {
	case ".yaml", ".yml":
	default:
		return Config{}, errors.Wrapf(ErrInvalidConfig, "config file %q must have a .yaml or .yml extension", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return Config{}, errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	dto := toDTO(Default())
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "decode yaml: %v", err)
	}
	cfg, err := dto.toConfig()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML in the layout accepted by Parse.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(toDTO(cfg))
}

func toDTO(c Config) fileDTO {
	p := c.Pipeline
	return fileDTO{
		Frame: frameDTO{Width: c.Frame.Width, Height: c.Frame.Height, Channels: c.Frame.Channels},
		Pipeline: pipelineDTO{
			Crop:    rectDTO{X: p.Crop.Min.X, Y: p.Crop.Min.Y, Width: p.Crop.Dx(), Height: p.Crop.Dy()},
			Working: sizeDTO{Width: p.WorkingSize.X, Height: p.WorkingSize.Y},
			Occlusion: occlusionDTO{
				Center: []int{p.Occlusion.Center.X, p.Occlusion.Center.Y},
				Axes:   []int{p.Occlusion.Axes.X, p.Occlusion.Axes.Y},
			},
			Classes: classesDTO{
				A: colorDTO{Name: p.ClassA.Name, Low: formatTriple(p.ClassA.Low), High: formatTriple(p.ClassA.High)},
				B: colorDTO{Name: p.ClassB.Name, Low: formatTriple(p.ClassB.Low), High: formatTriple(p.ClassB.High)},
			},
			Dilate:        p.Dilate,
			Erode:         p.Erode,
			Kernel:        string(p.Kernel),
			Canny:         cannyDTO{Low: p.CannyLow, High: p.CannyHigh},
			Retrieval:     string(p.Retrieval),
			ApproxEpsilon: p.ApproxEpsilon,
			LookAhead:     p.LookAhead,
			Origin:        []float32{p.Origin.X, p.Origin.Y},
			Fallback: fallbackDTO{
				A: []float32{p.FallbackA.X, p.FallbackA.Y},
				B: []float32{p.FallbackB.X, p.FallbackB.Y},
			},
			Sign: string(p.Sign),
		},
		Transport: transportDTO{
			CID:             c.Transport.CID,
			SenderStamp:     c.Transport.SenderStamp,
			SteeringRequest: c.Transport.SteeringRequest,
		},
		Log:      logDTO{Level: c.Log.Level, Format: c.Log.Format},
		Status:   statusDTO{Addr: c.StatusAddr},
		Recorder: recorderDTO{Path: c.RecordPath, PreviewDir: c.PreviewDir},
		Verbose:  c.Verbose,
	}
}

func (d fileDTO) toConfig() (Config, error) {
	p := d.Pipeline

	classA, err := ParseColorRange(p.Classes.A.Name, p.Classes.A.Low, p.Classes.A.High)
	if err != nil {
		return Config{}, err
	}
	classB, err := ParseColorRange(p.Classes.B.Name, p.Classes.B.Low, p.Classes.B.High)
	if err != nil {
		return Config{}, err
	}

	center, err := intPair("occlusion.center", p.Occlusion.Center)
	if err != nil {
		return Config{}, err
	}
	axes, err := intPair("occlusion.axes", p.Occlusion.Axes)
	if err != nil {
		return Config{}, err
	}
	origin, err := floatPair("origin", p.Origin)
	if err != nil {
		return Config{}, err
	}
	fallbackA, err := floatPair("fallback.a", p.Fallback.A)
	if err != nil {
		return Config{}, err
	}
	fallbackB, err := floatPair("fallback.b", p.Fallback.B)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Frame: FrameConfig{Width: d.Frame.Width, Height: d.Frame.Height, Channels: d.Frame.Channels},
		Pipeline: PipelineConfig{
			Crop:          image.Rect(p.Crop.X, p.Crop.Y, p.Crop.X+p.Crop.Width, p.Crop.Y+p.Crop.Height),
			WorkingSize:   image.Pt(p.Working.Width, p.Working.Height),
			Occlusion:     Occlusion{Center: center, Axes: axes},
			ClassA:        classA,
			ClassB:        classB,
			Dilate:        p.Dilate,
			Erode:         p.Erode,
			Kernel:        KernelShape(p.Kernel),
			CannyLow:      p.Canny.Low,
			CannyHigh:     p.Canny.High,
			Retrieval:     Retrieval(p.Retrieval),
			ApproxEpsilon: p.ApproxEpsilon,
			LookAhead:     p.LookAhead,
			Origin:        origin,
			FallbackA:     fallbackA,
			FallbackB:     fallbackB,
			Sign:          SignConvention(p.Sign),
		},
		Transport: TransportConfig{
			CID:             d.Transport.CID,
			SenderStamp:     d.Transport.SenderStamp,
			SteeringRequest: d.Transport.SteeringRequest,
		},
		Log:        LogConfig{Level: d.Log.Level, Format: d.Log.Format},
		StatusAddr: d.Status.Addr,
		RecordPath: d.Recorder.Path,
		PreviewDir: d.Recorder.PreviewDir,
		Verbose:    d.Verbose,
	}, nil
}

func intPair(field string, v []int) (image.Point, error) {
	if len(v) != 2 {
		return image.Point{}, errors.Wrapf(ErrInvalidConfig, "%s must have 2 values, got %d", field, len(v))
	}
	return image.Pt(v[0], v[1]), nil
}

func floatPair(field string, v []float32) (gocv.Point2f, error) {
	if len(v) != 2 {
		return gocv.Point2f{}, errors.Wrapf(ErrInvalidConfig, "%s must have 2 values, got %d", field, len(v))
	}
	return gocv.Point2f{X: v[0], Y: v[1]}, nil
}
