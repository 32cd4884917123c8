// Package imagehost uploads product images to the external image CDN.
package imagehost

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Upload is the hosted location of an uploaded image.
type Upload struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// Config holds the image host endpoint and credentials.
type Config struct {
	UploadURL string        `usage:"Image host upload endpoint" flag:"image-upload-url"`
	APIKey    string        `usage:"Image host API key" flag:"image-api-key"`
	Folder    string        `default:"products" usage:"Remote folder for uploads" flag:"image-folder"`
	Timeout   time.Duration `default:"30s" usage:"Upload request timeout" flag:"image-timeout"`
}

// Client uploads images over multipart HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// UploadImage streams the file to the image host and returns its hosted
// location. Callers treat failures as non-fatal for the enclosing
// operation.
func (c *Client) UploadImage(ctx context.Context, filename string, file io.Reader) (*Upload, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := form.WriteField("folder", c.cfg.Folder); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, pr)
	if err != nil {
		return nil, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("image host returned %d: %s", resp.StatusCode, body)
	}

	var up Upload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return nil, errors.Wrap(err, "decode upload response")
	}
	return &up, nil
}
