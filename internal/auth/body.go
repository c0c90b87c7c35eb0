package auth

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/tidwall/gjson"
)

// maxRequestBody bounds registration and token bodies. Legitimate
// requests are a few hundred bytes.
const maxRequestBody = 64 << 10

// requestBody holds a POST body as form values. JSON bodies keep their raw
// bytes as well, for fields that are not scalars.
type requestBody struct {
	form url.Values
	json []byte
}

// readBody parses form-encoded or JSON bodies. Only JSON scalars are
// copied into the form view. Any other content type is read as a form.
func readBody(w http.ResponseWriter, r *http.Request) (*requestBody, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, kberrors.InvalidRequest("Request body is too large")
		}
		return nil, kberrors.InvalidRequest("Request body could not be read")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.EqualFold(mediaType, "application/json") {
		return parseJSONBody(raw)
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, kberrors.InvalidRequest("Request body is not valid form data")
	}

	return &requestBody{form: form}, nil
}

func parseJSONBody(raw []byte) (*requestBody, error) {
	body := &requestBody{form: url.Values{}}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return body, nil
	}

	if !gjson.ValidBytes(raw) {
		return nil, kberrors.InvalidRequest("Request body is not valid JSON")
	}

	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return body, nil
	}

	body.json = raw
	parsed.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			body.form.Set(key.String(), value.String())
		}
		return true
	})

	return body, nil
}

// get returns the trimmed first value for key.
func (b *requestBody) get(key string) string {
	return strings.TrimSpace(b.form.Get(key))
}
