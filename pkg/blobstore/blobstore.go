// Package blobstore uploads image bytes to a Cloudinary-compatible media
// CDN and returns the stored asset's public id and serving URL.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Opts configures the client.
type Opts struct {
	// BaseURL is the API root, e.g. https://api.cloudinary.com/v1_1.
	BaseURL string
	// CloudName, APIKey, and APISecret are the account credentials.
	CloudName string
	APIKey    string
	APISecret string
	// Folder prefixes uploaded asset ids, e.g. "quantum-images".
	Folder string
	// RPS caps upload requests per second. Zero disables the cap.
	RPS float64
	// Timeout caps one upload round trip. Zero means 60s.
	Timeout time.Duration
}

// Client is a media CDN upload client.
type Client struct {
	opts    Opts
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a blob store client.
func New(opts Opts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	c := &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		now:    time.Now,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c
}

type uploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload stores the image and returns its public id and serving URL. The
// asset id is derived from category and filename so re-uploads overwrite
// rather than duplicate.
func (c *Client) Upload(ctx context.Context, data []byte, filename, category string) (string, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", "", fmt.Errorf("blobstore: rate wait: %w", err)
		}
	}

	publicID := c.publicID(category, filename)
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"overwrite": "true",
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.opts.APIKey

	body, contentType, err := multipartBody(params, filename, data)
	if err != nil {
		return "", "", fmt.Errorf("blobstore: build body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/upload", c.opts.BaseURL, c.opts.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", "", fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("blobstore: %w", err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("blobstore: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", "", fmt.Errorf("blobstore: status %d: %s", resp.StatusCode, msg)
	}
	return out.PublicID, out.SecureURL, nil
}

// publicID builds folder/category/stem, with the extension stripped.
func (c *Client) publicID(category, filename string) string {
	stem := filename
	if i := strings.LastIndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}
	parts := []string{}
	if c.opts.Folder != "" {
		parts = append(parts, c.opts.Folder)
	}
	if category != "" {
		parts = append(parts, category)
	}
	return strings.Join(append(parts, stem), "/")
}

// sign computes the API signature: SHA-1 over the sorted key=value pairs
// joined with & and suffixed with the API secret.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(c.opts.APISecret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func multipartBody(params map[string]string, filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
