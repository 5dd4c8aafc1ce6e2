package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/model"
)

func testNormalizer(maxDim int) *Normalizer {
	return NewNormalizer(config.UploadConfig{
		MaxBytes:     1 << 20,
		MaxDimension: maxDim,
		JPEGQuality:  80,
	}, nil, nil)
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	return img
}

func TestNormalize_downscalesLandscape(t *testing.T) {
	n := testNormalizer(100)
	out, err := n.Normalize(model.FileUpload{
		Field:    "image",
		Filename: "shoe.png",
		Data:     pngBytes(t, 400, 200, color.RGBA{R: 200, A: 255}),
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	img := decodeJPEG(t, out.Data)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("size = %v, want 100x50", img.Bounds().Size())
	}
	if out.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", out.ContentType)
	}
	if out.Filename != "shoe.jpg" {
		t.Errorf("Filename = %q, want shoe.jpg", out.Filename)
	}
	if out.Field != "image" {
		t.Errorf("Field = %q", out.Field)
	}
}

func TestNormalize_keepsSmallImageSize(t *testing.T) {
	n := testNormalizer(100)
	out, err := n.Normalize(model.FileUpload{Field: "image", Data: pngBytes(t, 30, 60, color.Black)})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	img := decodeJPEG(t, out.Data)
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 60 {
		t.Errorf("size = %v, want 30x60", img.Bounds().Size())
	}
	if out.Filename != "image.jpg" {
		t.Errorf("Filename = %q, want image.jpg", out.Filename)
	}
}

func TestNormalize_transparentBecomesWhite(t *testing.T) {
	n := testNormalizer(100)
	out, err := n.Normalize(model.FileUpload{Field: "image", Data: pngBytes(t, 8, 8, color.NRGBA{})})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	r, g, b, _ := decodeJPEG(t, out.Data).At(4, 4).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("pixel = (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestNormalize_rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated png", []byte("\x89PNG\r\n\x1a\n\x00\x00")},
		{"too large", bytes.Repeat([]byte{0xff}, 2<<20)},
	}
	n := testNormalizer(100)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(model.FileUpload{Field: "image", Data: tt.data})
			ee, ok := model.AsEnvelope(err)
			if !ok || ee.Code != model.ErrValidationError {
				t.Fatalf("error = %v, want VALIDATION_ERROR", err)
			}
			if len(ee.Details) != 1 || ee.Details[0].Field != "image" {
				t.Errorf("details = %+v", ee.Details)
			}
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	n := testNormalizer(50)
	sub := &model.Submission{
		Fields: map[string]any{"name": "Boot"},
		Files: []model.FileUpload{
			{Field: "image", Filename: "a.png", Data: pngBytes(t, 100, 100, color.White)},
			{Field: "thumb", Filename: "b.png", Data: pngBytes(t, 10, 10, color.White)},
		},
	}
	if err := n.NormalizeAll(sub); err != nil {
		t.Fatalf("NormalizeAll() error = %v", err)
	}
	for _, f := range sub.Files {
		if f.ContentType != "image/jpeg" {
			t.Errorf("%s ContentType = %q", f.Field, f.ContentType)
		}
	}
	if decodeJPEG(t, sub.Files[0].Data).Bounds().Dx() != 50 {
		t.Error("first file not downscaled")
	}
}
