package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
)

// MaxUploadSize bounds one uploaded slip.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for part headers and text fields.
const multipartOverhead = 64 << 10

const uploadField = "file"

// uploadError carries the HTTP status of a rejected upload.
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// readUpload extracts the slip from the multipart "file" field.
func readUpload(c *gin.Context) (backend.Image, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return backend.Image{}, &uploadError{status: http.StatusRequestEntityTooLarge, message: "Image trop volumineuse (10 Mo maximum)"}
		}
		return backend.Image{}, &uploadError{status: http.StatusBadRequest, message: "Veuillez sélectionner une image"}
	}
	if file.Size > MaxUploadSize {
		return backend.Image{}, &uploadError{status: http.StatusRequestEntityTooLarge, message: "Image trop volumineuse (10 Mo maximum)"}
	}

	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "image/") {
		return backend.Image{}, &uploadError{status: http.StatusUnsupportedMediaType, message: "Le fichier doit être une image"}
	}

	src, err := file.Open()
	if err != nil {
		return backend.Image{}, &uploadError{status: http.StatusBadRequest, message: "Impossible d'ouvrir l'image"}
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return backend.Image{}, &uploadError{status: http.StatusInternalServerError, message: "Impossible de lire l'image"}
	}
	if len(data) == 0 {
		return backend.Image{}, &uploadError{status: http.StatusBadRequest, message: "Veuillez sélectionner une image"}
	}
	return backend.Image{Filename: file.Filename, ContentType: contentType, Data: data}, nil
}

// param reads a form field, falling back to the query string.
func param(c *gin.Context, key string) string {
	if v, ok := c.GetPostForm(key); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(c.Query(key))
}

func boolParam(c *gin.Context, key string) (*bool, error) {
	raw := param(c, key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.NewValidationError(key, "valeur booléenne attendue")
	}
	return &v, nil
}

func intParam(c *gin.Context, key string) (int, error) {
	raw := param(c, key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.NewValidationError(key, "entier positif attendu")
	}
	return v, nil
}

// requestOptions reads the analysis options. use_league_coeff is
// tri-state; disable_league_coeff=true is accepted as its negation.
func requestOptions(c *gin.Context) (backend.RequestOptions, error) {
	opts := backend.RequestOptions{
		League:          param(c, "league"),
		ManualMatchName: param(c, "match_name"),
	}
	disableCache, err := boolParam(c, "disable_cache")
	if err != nil {
		return opts, err
	}
	opts.DisableCache = disableCache != nil && *disableCache

	useCoeff, err := boolParam(c, "use_league_coeff")
	if err != nil {
		return opts, err
	}
	disableCoeff, err := boolParam(c, "disable_league_coeff")
	if err != nil {
		return opts, err
	}
	if useCoeff == nil && disableCoeff != nil && *disableCoeff {
		off := false
		useCoeff = &off
	}
	opts.UseLeagueCoefficients = useCoeff
	return opts, nil
}
