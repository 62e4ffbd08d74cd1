package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DefaultInputSize is the square edge length the model expects.
const DefaultInputSize = 224

// Decoders allocate the full canvas before resizing, so the declared size is
// checked from the header first.
const (
	MaxImageDimension = 10000
	MaxImagePixels    = 40_000_000
)

// ImageNet channel means in BGR order, as subtracted by the Keras "caffe"
// preprocessing mode the model was trained with.
var imageNetMeanBGR = [3]float32{103.939, 116.779, 123.68}

// Preprocess decodes imageBytes, resizes it to size x size RGB and returns a
// flat NHWC tensor in BGR channel order with the ImageNet means removed.
func Preprocess(imageBytes []byte, size int) ([]float32, error) {
	if size <= 0 {
		size = DefaultInputSize
	}
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension ||
		int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds the decodable size", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make([]float32, size*size*3)
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			i := (y*size + x) * 3
			tensor[i] = float32(b) - imageNetMeanBGR[0]
			tensor[i+1] = float32(g) - imageNetMeanBGR[1]
			tensor[i+2] = float32(r) - imageNetMeanBGR[2]
		}
	}
	return tensor, nil
}
