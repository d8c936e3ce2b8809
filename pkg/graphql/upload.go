package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// File is the binary part of an upload.
type File struct {
	Name    string
	Content io.Reader
}

var uploadContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
}

// ContentTypeFor guesses a MIME type from the file extension, defaulting to image/jpeg.
func ContentTypeFor(name string) string {
	if ct, ok := uploadContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "image/jpeg"
}

// Upload sends op as a multipart request carrying file under the variable
// fileVar and returns the first field of the response data.
func (c *Client) Upload(ctx context.Context, op string, vars Variables, fileVar string, file File) (json.RawMessage, error) {
	operationVars := Variables{}
	for k, v := range vars {
		operationVars[k] = v
	}
	operationVars[fileVar] = nil

	operations, err := json.Marshal(requestBody{Query: op, Variables: operationVars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode operations: %w", err)
	}
	fileMap, err := json.Marshal(map[string][]string{"0": {"variables." + fileVar}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode map: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("operations", string(operations)); err != nil {
		return nil, err
	}
	if err := writer.WriteField("map", string(fileMap)); err != nil {
		return nil, err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="0"; filename=%q`, filepath.Base(file.Name)))
	header.Set("Content-Type", ContentTypeFor(file.Name))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	data, err := c.do(req, operationName(op))
	if err != nil {
		return nil, err
	}
	return firstField(data)
}

// firstField returns the first field of a JSON object in document order.
func firstField(data json.RawMessage) (json.RawMessage, error) {
	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return nil, fmt.Errorf("%w: upload payload is not an object", ErrShapeMismatch)
	}
	var first json.RawMessage
	result.ForEach(func(_, value gjson.Result) bool {
		first = json.RawMessage(value.Raw)
		return false
	})
	if first == nil || gjson.ParseBytes(first).Type == gjson.Null {
		return nil, ErrNoData
	}
	return first, nil
}
