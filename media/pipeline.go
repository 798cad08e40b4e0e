package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/disintegration/imaging"

	"mls_syncd/models"
)

// Variant target bounds. Derived assets use an aspect-preserving cover fit
// and are never upscaled past the source's own dimensions.
var variantBounds = []struct {
	Name   string
	Width  int
	Height int
}{
	{models.VariantThumbnail, 200, 150},
	{models.VariantMedium, 800, 600},
	{models.VariantLarge, 1920, 1440},
}

const jpegQuality = 90

// BlobStore is the durable storage collaborator the pipeline hands finished
// assets to.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (*UploadedObject, error)
}

// UploadedObject is one stored asset's location.
type UploadedObject struct {
	Key    string
	URL    string
	CDNUrl string
}

// Asset is one processed image variant.
type Asset struct {
	Variant   string `json:"variant"`
	Key       string `json:"key"`
	URL       string `json:"url"`
	CDNUrl    string `json:"cdn_url,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`
}

// ProcessedImage is the full output for one source photo.
type ProcessedImage struct {
	SourceURL string           `json:"source_url"`
	Original  Asset            `json:"original"`
	Variants  map[string]Asset `json:"variants"`
}

// Pipeline downloads a listing photo, re-encodes it, derives size variants
// and uploads everything to blob storage. Failures are returned to the
// caller; isolating them per listing is the orchestrator's job.
type Pipeline struct {
	client   *http.Client
	store    BlobStore
	maxBytes int64
	folder   string
}

func NewPipeline(client *http.Client, store BlobStore, maxBytes int64, folder string) *Pipeline {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	if folder == "" {
		folder = "listings"
	}
	return &Pipeline{client: client, store: store, maxBytes: maxBytes, folder: folder}
}

// ProcessListingImage runs the full download -> decode -> re-encode ->
// derive -> upload chain for one source URL.
func (p *Pipeline) ProcessListingImage(ctx context.Context, sourceURL string) (*ProcessedImage, error) {
	data, err := p.download(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", sourceURL, err)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", sourceURL, err)
	}

	hash := sha256.Sum256(data)
	prefix := hex.EncodeToString(hash[:])[:16]

	out := &ProcessedImage{
		SourceURL: sourceURL,
		Variants:  make(map[string]Asset, len(variantBounds)),
	}

	original, err := p.encodeAndUpload(ctx, src, prefix, models.VariantOriginal)
	if err != nil {
		return nil, err
	}
	out.Original = *original

	for _, bound := range variantBounds {
		resized := coverResize(src, bound.Width, bound.Height)
		asset, err := p.encodeAndUpload(ctx, resized, prefix, bound.Name)
		if err != nil {
			return nil, err
		}
		out.Variants[bound.Name] = *asset
	}

	return out, nil
}

func (p *Pipeline) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	// One extra byte past the ceiling distinguishes "exactly at the limit"
	// from "over it".
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("exceeds %d byte ceiling", p.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	return data, nil
}

func (p *Pipeline) encodeAndUpload(ctx context.Context, img image.Image, prefix, variant string) (*Asset, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", variant, err)
	}

	key := fmt.Sprintf("%s/%s/%s_%s.jpg", p.folder, prefix[:2], prefix, variant)

	obj, err := p.store.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", variant, err)
	}

	bounds := img.Bounds()
	return &Asset{
		Variant:   variant,
		Key:       obj.Key,
		URL:       obj.URL,
		CDNUrl:    obj.CDNUrl,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		SizeBytes: int64(buf.Len()),
	}, nil
}

// coverResize scales the source to fill the target bounds, cropping the
// overflow, but never upscales: a source smaller than the target in either
// dimension is only shrunk as far as a plain fit requires.
func coverResize(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	if b.Dx() >= width && b.Dy() >= height {
		return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
	}
	// Fit never upscales; a source smaller than the bounds comes back as-is.
	return imaging.Fit(src, width, height, imaging.Lanczos)
}
