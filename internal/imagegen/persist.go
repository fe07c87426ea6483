package imagegen

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
)

// Target widths per asset kind, in pixels. Heights follow the source aspect
// ratio.
const (
	avatarWidth     = 300
	backgroundWidth = 1000
	iconWidth       = 300
	portraitWidth   = 500
)

// tempDeleteAttempts bounds the retry loop for removing the download temp
// file; filesystem locks may linger momentarily after the decode.
const (
	tempDeleteAttempts = 5
	tempDeleteBackoff  = 100 * time.Millisecond
)

// fetchAndStore downloads the image at url, scales it to targetWidth and
// writes it as PNG to finalPath. The write goes through a temp file and a
// rename so a crash never leaves a half-written asset.
func (p *Pipeline) fetchAndStore(ctx context.Context, url, finalPath string, targetWidth int) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("imagegen: create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".download-*")
	if err != nil {
		return fmt.Errorf("imagegen: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer p.removeTemp(tmpPath)

	if err := p.download(ctx, url, tmp); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return fmt.Errorf("imagegen: rewind temp file: %w", err)
	}

	src, _, err := image.Decode(tmp)
	tmp.Close()
	if err != nil {
		return fmt.Errorf("imagegen: decode image: %w", err)
	}

	scaled := scaleToWidth(src, targetWidth)

	out, err := os.CreateTemp(filepath.Dir(finalPath), ".scaled-*")
	if err != nil {
		return fmt.Errorf("imagegen: create output temp: %w", err)
	}
	outPath := out.Name()
	if err := png.Encode(out, scaled); err != nil {
		out.Close()
		p.removeTemp(outPath)
		return fmt.Errorf("imagegen: encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		p.removeTemp(outPath)
		return fmt.Errorf("imagegen: close output: %w", err)
	}
	if err := os.Rename(outPath, finalPath); err != nil {
		p.removeTemp(outPath)
		return fmt.Errorf("imagegen: rename into place: %w", err)
	}
	return nil
}

// download streams the URL body into w.
func (p *Pipeline) download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("imagegen: build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagegen: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("imagegen: download %s: status %d", url, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("imagegen: read download body: %w", err)
	}
	return nil
}

// removeTemp deletes a temp file with a short retry loop.
func (p *Pipeline) removeTemp(path string) {
	var err error
	for attempt := 0; attempt < tempDeleteAttempts; attempt++ {
		err = os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(tempDeleteBackoff)
	}
	p.log.Warn("temp file not removed", "path", path, "error", err)
}

// scaleToWidth downscales src to targetWidth keeping aspect ratio. Images
// already at or below the target are returned unchanged; assets are never
// upscaled.
func scaleToWidth(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= targetWidth || w == 0 {
		return src
	}
	targetHeight := h * targetWidth / w
	if targetHeight < 1 {
		targetHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
