// Package qr decodes QR codes from photos and screenshots.
package qr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/xhad/inkdrop/internal/types"
)

type Decoder struct {
	tryHarder bool
}

func NewDecoder(tryHarder bool) *Decoder {
	return &Decoder{tryHarder: tryHarder}
}

// Decode returns the text payload of the first QR code found in img.
// It wraps types.ErrNoQRCode when the image holds no readable code.
func (d *Decoder) Decode(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, format, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", types.ErrNoQRCode, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s bitmap: %v", types.ErrNoQRCode, format, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if d.tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	// QRCodeReader keeps decoder state, so one per call.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNoQRCode, err)
	}

	text := strings.TrimSpace(result.GetText())
	if text == "" {
		return "", fmt.Errorf("%w: empty payload", types.ErrNoQRCode)
	}
	return text, nil
}
