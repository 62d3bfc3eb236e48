package qr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/inkdrop/internal/testutil"
	"github.com/xhad/inkdrop/internal/types"
)

func TestDecodeURL(t *testing.T) {
	img, err := testutil.QRCodePNG("https://example.com")
	require.NoError(t, err)

	got, err := NewDecoder(true).Decode(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got)
}

func TestDecodeText(t *testing.T) {
	img, err := testutil.QRCodePNG("buy milk")
	require.NoError(t, err)

	got, err := NewDecoder(false).Decode(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got)
}

func TestDecodeBlankImage(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	_, err := NewDecoder(true).Decode(context.Background(), buf.Bytes())
	assert.ErrorIs(t, err, types.ErrNoQRCode)
}

func TestDecodeNotAnImage(t *testing.T) {
	_, err := NewDecoder(false).Decode(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, types.ErrNoQRCode)
}
