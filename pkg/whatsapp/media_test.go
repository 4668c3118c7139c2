package whatsapp

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReaction(t *testing.T) {
	assert.NoError(t, ValidateReaction("💚"))
	assert.NoError(t, ValidateReaction("👍🏽"))
	assert.ErrorIs(t, ValidateReaction(""), ErrInvalidReaction)
	assert.ErrorIs(t, ValidateReaction("ok"), ErrInvalidReaction)
	assert.ErrorIs(t, ValidateReaction("💚💚"), ErrInvalidReaction)
}

func TestConvertSticker(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := ConvertSticker(buf.Bytes())
	require.NoError(t, err)

	require.Greater(t, len(out), 12)
	assert.Equal(t, "RIFF", string(out[:4]))
	assert.Equal(t, "WEBP", string(out[8:12]))
}

func TestConvertStickerRejectsGarbage(t *testing.T) {
	_, err := ConvertSticker([]byte("not an image"))
	assert.Error(t, err)
}
