package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessProducesMeanCenteredBGRTensor(t *testing.T) {
	data := encodePNG(t, 40, 30, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	tensor, err := Preprocess(data, 8)
	require.NoError(t, err)
	require.Len(t, tensor, 8*8*3)

	assert.InDelta(t, 50-103.939, tensor[0], 1.01)
	assert.InDelta(t, 100-116.779, tensor[1], 1.01)
	assert.InDelta(t, 200-123.68, tensor[2], 1.01)

	last := len(tensor) - 3
	assert.InDelta(t, tensor[0], tensor[last], 1.01)
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	_, err := Preprocess([]byte("definitely not an image"), DefaultInputSize)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Preprocess(nil, DefaultInputSize)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// withDeclaredSize rewrites the IHDR dimensions of a PNG and fixes its CRC,
// leaving the pixel data untouched.
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestPreprocessRejectsOversizedCanvas(t *testing.T) {
	small := encodePNG(t, 2, 2, color.Gray{Y: 128})

	cases := map[string][2]uint32{
		"both sides huge": {16000, 16000},
		"one side huge":   {MaxImageDimension + 1, 1},
		"too many pixels": {8000, 8000},
	}
	for name, size := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Preprocess(withDeclaredSize(t, small, size[0], size[1]), 8)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidImage)
			assert.Contains(t, err.Error(), "exceeds the decodable size")
		})
	}
}

func TestArgMax(t *testing.T) {
	assert.Equal(t, -1, ArgMax(nil))
	assert.Equal(t, 2, ArgMax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, ArgMax([]float32{0.5, 0.5, 0.1}))
}

func TestPredictionFromScores(t *testing.T) {
	scores := make([]float32, NumLabels)
	scores[Kaca] = 0.6
	scores[Kertas] = 0.3

	pred, err := PredictionFromScores(scores)
	require.NoError(t, err)
	assert.Equal(t, Kaca, pred.Label)
	assert.InDelta(t, 0.6, pred.Confidence, 1e-6)
	assert.Equal(t, "Kaca", pred.LabelName())

	_, err = PredictionFromScores(scores[:NumLabels-1])
	assert.ErrorContains(t, err, "want 12")
}

func TestParseLabel(t *testing.T) {
	for _, l := range Labels() {
		got, ok := ParseLabel(l.String())
		require.True(t, ok, l.String())
		assert.Equal(t, l, got)
	}

	got, ok := ParseLabel("  sampah makanan ")
	assert.True(t, ok)
	assert.Equal(t, SampahMakanan, got)

	got, ok = ParseLabel("Kayu")
	assert.False(t, ok)
	assert.Equal(t, LabelUnknown, got)
	assert.Equal(t, "Unknown", Label(42).String())
	assert.Equal(t, 12, NumLabels)
}

func TestUnavailableAlwaysFails(t *testing.T) {
	_, err := Unavailable{Cause: errors.New("no such file")}.Classify(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "no such file")
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _ []byte) (Prediction, error) {
	<-ctx.Done()
	return Prediction{}, ctx.Err()
}

func TestWithTimeoutCancelsSlowCalls(t *testing.T) {
	c := WithTimeout(slowClassifier{}, 10*time.Millisecond)
	_, err := c.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
