// Package image fetches and prepares release cover art. Covers arrive from
// platform CDNs as JPEG, PNG, or WebP; the dashboard wants square thumbnails
// for list views and a verdict on whether the source art is big enough to
// display at full size.
package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// MinCoverSize is the smallest cover edge the dashboard renders at full
	// size without visible upscaling.
	MinCoverSize = 300

	// ThumbnailSize bounds the square thumbnails used in dashboard lists.
	ThumbnailSize = 160

	// Some platforms serve covers a few pixels off square.
	squareTolerance = 0.02
)

// RemoteImageInfo describes a cover as served by its CDN: pixel dimensions
// plus the transfer size in bytes.
type RemoteImageInfo struct {
	Width    int
	Height   int
	FileSize int64
}

// ProbeRemoteImage downloads a cover URL and reports its dimensions and size
// without keeping the pixel data.
func ProbeRemoteImage(ctx context.Context, rawURL string) (*RemoteImageInfo, error) {
	data, fileSize, err := fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	w, h, err := GetDimensions(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding dimensions: %w", err)
	}

	return &RemoteImageInfo{Width: w, Height: h, FileSize: fileSize}, nil
}

// FetchThumbnail fetches a remote cover URL and returns it scaled to fit
// within ThumbnailSize, along with the output format name.
func FetchThumbnail(ctx context.Context, rawURL string) ([]byte, string, error) {
	data, _, err := fetch(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	return Thumbnail(bytes.NewReader(data), ThumbnailSize)
}

// maxFetchBytes caps cover downloads; platform art tops out well under this.
const maxFetchBytes = 5 << 20

var fetchClient = &http.Client{Timeout: 10 * time.Second}

func fetch(ctx context.Context, rawURL string) (data []byte, fileSize int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := fetchClient.Do(req) //nolint:gosec // cover URLs come from platform APIs
	if err != nil {
		return nil, 0, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}

	// Prefer the advertised length; some CDNs omit it, so fall back to what
	// actually arrived.
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		fileSize, _ = strconv.ParseInt(cl, 10, 64)
	}
	if fileSize == 0 {
		fileSize = int64(len(data))
	}
	return data, fileSize, nil
}

// Format names as reported by DetectFormat and Thumbnail.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	riffMagic = []byte("RIFF")
	webpTag   = []byte("WEBP")
)

// DetectFormat identifies the image format from its magic bytes. The
// returned reader replays the consumed header so the caller can decode from
// the start.
func DetectFormat(r io.Reader) (format string, replay io.Reader, err error) {
	// 12 bytes covers the longest signature (RIFF....WEBP).
	header := make([]byte, 12)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("reading header: %w", err)
	}
	header = header[:n]
	replay = io.MultiReader(bytes.NewReader(header), r)

	switch {
	case bytes.HasPrefix(header, jpegMagic):
		return FormatJPEG, replay, nil
	case bytes.HasPrefix(header, pngMagic):
		return FormatPNG, replay, nil
	case len(header) >= 12 && bytes.HasPrefix(header, riffMagic) && bytes.Equal(header[8:12], webpTag):
		return FormatWebP, replay, nil
	}
	return "", replay, fmt.Errorf("unrecognized image format")
}

// GetDimensions reads just enough of the stream to learn width and height.
func GetDimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// IsLowResolution reports whether a cover falls below MinCoverSize on either
// edge. Returns false if either dimension is zero (unknown).
func IsLowResolution(w, h int) bool {
	if w == 0 || h == 0 {
		return false
	}
	return w < MinCoverSize || h < MinCoverSize
}

// IsSquare reports whether the dimensions are square within tolerance.
func IsSquare(w, h int) bool {
	if w == 0 || h == 0 {
		return false
	}
	ratio := float64(w) / float64(h)
	return math.Abs(ratio-1) <= squareTolerance
}

// Thumbnail decodes the image from src, scales it to fit within maxDim on
// both edges while maintaining aspect ratio, and encodes the result. Returns
// the image bytes and the output format. An image that already fits is
// re-encoded without scaling; nothing is ever upscaled.
func Thumbnail(src io.Reader, maxDim int) ([]byte, string, error) {
	format, replay, err := DetectFormat(src)
	if err != nil {
		return nil, "", fmt.Errorf("detecting format: %w", err)
	}

	img, _, err := image.Decode(replay)
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := fitDimensions(bounds.Dx(), bounds.Dy(), maxDim, maxDim)
	if w != bounds.Dx() || h != bounds.Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	// x/image decodes WebP but cannot encode it, so WebP covers come back
	// as PNG.
	outFormat := format
	if outFormat == FormatWebP {
		outFormat = FormatPNG
	}

	data, err := encode(img, outFormat, thumbnailJPEGQuality)
	if err != nil {
		return nil, "", err
	}
	return data, outFormat, nil
}

const thumbnailJPEGQuality = 85

// fitDimensions scales srcW x srcH down to fit within maxW x maxH, keeping
// aspect ratio. Images that already fit come back untouched.
func fitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= maxW && srcH <= maxH {
		return srcW, srcH
	}
	scale := min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	return max(1, int(math.Round(float64(srcW)*scale))),
		max(1, int(math.Round(float64(srcH)*scale)))
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
