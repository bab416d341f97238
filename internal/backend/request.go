package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/example/scoreslip/internal/apperr"
)

const analyzePath = "/api/analyze"

// Image is the uploaded slip.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RequestOptions tunes one analysis. The zero value asks for every backend
// default. UseLeagueCoefficients is tri-state: nil leaves the backend
// default in place. ManualMatchName is display-only and never sent.
type RequestOptions struct {
	DisableCache          bool
	UseLeagueCoefficients *bool
	League                string
	ManualMatchName       string
}

// Query returns only the parameters that depart from backend defaults.
// An explicit "false" is never emitted.
func (o RequestOptions) Query() url.Values {
	q := url.Values{}
	if o.DisableCache {
		q.Set("disable_cache", "true")
	}
	if o.UseLeagueCoefficients != nil && !*o.UseLeagueCoefficients {
		q.Set("disable_league_coeff", "true")
	}
	if league := strings.TrimSpace(o.League); league != "" {
		q.Set("league", league)
	}
	return q
}

// BuildAnalyzeRequest assembles the multipart POST for /api/analyze.
func BuildAnalyzeRequest(ctx context.Context, baseURL string, img Image, opts RequestOptions) (*http.Request, error) {
	if len(img.Data) == 0 {
		return nil, apperr.NewValidationError("file", "Veuillez sélectionner une image")
	}

	target := strings.TrimSuffix(baseURL, "/") + analyzePath
	if q := opts.Query(); len(q) > 0 {
		target += "?" + q.Encode()
	}

	body, contentType, err := multipartBody(img, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type formField struct {
	name  string
	value string
}

// multipartBody writes img under the "file" field followed by fields.
func multipartBody(img Image, fields []formField) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := img.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image: %w", err)
	}

	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
