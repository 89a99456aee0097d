package controller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// PreviewSink receives annotated working frames.
type PreviewSink interface {
	Show(seq uint64, img gocv.Mat) error
}

// DirPreview writes every preview as preview-<seq>.png into a directory.
type DirPreview struct {
	dir string
}

// NewDirPreview creates dir if needed.
func NewDirPreview(dir string) (*DirPreview, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create preview dir %s", dir)
	}
	return &DirPreview{dir: dir}, nil
}

// Show implements PreviewSink.
func (d *DirPreview) Show(seq uint64, img gocv.Mat) error {
	path := filepath.Join(d.dir, fmt.Sprintf("preview-%d.png", seq))
	if ok := gocv.IMWrite(path, img); !ok {
		return errors.Errorf("write %s", path)
	}
	return nil
}

// WindowPreview shows previews in a desktop window. It must be driven from
// the main goroutine on platforms whose GUI toolkit requires it.
type WindowPreview struct {
	window *gocv.Window
}

// NewWindowPreview opens a window titled name.
func NewWindowPreview(name string) *WindowPreview {
	return &WindowPreview{window: gocv.NewWindow(name)}
}

// Show implements PreviewSink.
func (w *WindowPreview) Show(_ uint64, img gocv.Mat) error {
	w.window.IMShow(img)
	w.window.WaitKey(1)
	return nil
}

// Close closes the window.
func (w *WindowPreview) Close() error {
	return w.window.Close()
}
