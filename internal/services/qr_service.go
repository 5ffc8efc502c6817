package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// RenderQRCode encodes content as a PNG QR image and returns it base64 encoded.
func RenderQRCode(content string, size int) (string, error) {
	if size <= 0 {
		size = defaultQRSize
	}

	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(size)); err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
