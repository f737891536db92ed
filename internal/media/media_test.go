package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
)

func TestDecodeDataURL(t *testing.T) {
	payload := []byte("hello video")
	url := "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(payload)
	data, mime, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("DecodeDataURL error: %v", err)
	}
	if mime != "video/mp4" || !bytes.Equal(data, payload) {
		t.Fatalf("unexpected result mime=%s data=%q", mime, data)
	}

	url = "data:image/svg+xml;charset=utf-8;base64," + base64.RawStdEncoding.EncodeToString(payload)
	data, mime, err = DecodeDataURL(url)
	if err != nil || mime != "image/svg+xml" || !bytes.Equal(data, payload) {
		t.Fatalf("unpadded/param url: mime=%s data=%q err=%v", mime, data, err)
	}
}

func TestDecodeDataURL_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"not a url",
		"data:video/mp4,plain",
		"data:video/mp4;base64,@@@",
	} {
		if _, _, err := DecodeDataURL(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestExtFor(t *testing.T) {
	if got := ExtFor("video/webm", ".mp4"); got != ".webm" {
		t.Fatalf("ExtFor webm = %s", got)
	}
	if got := ExtFor("video/x-unknown", ".mp4"); got != ".mp4" {
		t.Fatalf("ExtFor fallback = %s", got)
	}
}

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFrameStream_ReadsConcatenatedPNGs(t *testing.T) {
	var buf bytes.Buffer
	colors := []color.Color{color.Black, color.White, color.RGBA{R: 200, A: 255}}
	for _, c := range colors {
		if err := png.Encode(&buf, solid(c)); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	s := NewFrameStream(&buf)
	var got []image.Image
	for {
		img, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		got = append(got, img)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	r, _, _, _ := got[2].At(0, 0).RGBA()
	if r>>8 != 200 {
		t.Fatalf("third frame red = %d", r>>8)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestFrameStream_TruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = png.Encode(&buf, solid(color.White))
	s := NewFrameStream(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	if _, err := s.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img, err := EncodeJPEG(solid(color.White))
	if err != nil {
		t.Fatalf("EncodeJPEG error: %v", err)
	}
	if img.MIMEType != "image/jpeg" {
		t.Fatalf("mime = %s", img.MIMEType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(img.Data)); err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
}
