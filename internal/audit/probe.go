package audit

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mesh-intelligence/labelkit/internal/layout"
)

// probeDimensions compares each payload image's declared size with the size
// recorded in its file header. Only headers are decoded.
func (a *auditor) probeDimensions(ctx context.Context, splits []string, images map[string][]layout.Entry) error {
	for _, split := range splits {
		for _, e := range images[split] {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, ok := a.inPayload(e)
			if !ok {
				continue
			}
			w, h, err := a.decodeSize(e.Path)
			if err != nil {
				a.report.add(KindUnreadableImage, split, e.Stem, e.Path, err.Error())
				continue
			}
			if w != img.Width || h != img.Height {
				a.report.add(KindDimensionMismatch, split, e.Stem, e.Path,
					fmt.Sprintf("payload declares %dx%d, file is %dx%d", img.Width, img.Height, w, h))
			}
		}
	}
	return nil
}

func (a *auditor) decodeSize(path string) (int, int, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding header: %w", err)
	}
	a.log.Debug().Str("path", path).Str("format", format).Msg("probed image")
	return cfg.Width, cfg.Height, nil
}
