package whatsapp

import (
	"bytes"
	"errors"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
	"github.com/sunshineplan/imgconv"
)

const StickerSize = 512

var ErrInvalidReaction = errors.New("reaction must be exactly one emoji")

// ConvertSticker turns any decodable image into a 512x512 WebP sticker and a small JPEG preview.
func ConvertSticker(image []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, errors.New("Error While Decoding Convert Sticker Stream")
	}

	resized := imgconv.Resize(decoded, &imgconv.ResizeOption{Width: StickerSize, Height: StickerSize})
	encoded := new(bytes.Buffer)
	if err := imgconv.Write(encoded, resized, &imgconv.FormatOption{Format: imgconv.WEBP}); err != nil {
		return nil, errors.New("Error While Encoding Convert Sticker Stream")
	}
	return encoded.Bytes(), nil
}

// Thumbnail renders a 72px wide JPEG preview for outbound images.
func Thumbnail(image []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, errors.New("Error While Decoding Thumbnail Image Stream")
	}
	encoded := new(bytes.Buffer)
	err = imgconv.Write(encoded,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, errors.New("Error While Encoding Thumbnail Image Stream")
	}
	return encoded.Bytes(), nil
}

// ValidateReaction accepts a single grapheme cluster that is an emoji.
func ValidateReaction(emoji string) error {
	if emoji == "" || !gomoji.ContainsEmoji(emoji) || uniseg.GraphemeClusterCount(emoji) != 1 {
		return ErrInvalidReaction
	}
	return nil
}
