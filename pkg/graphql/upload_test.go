package graphql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("photo.PNG"))
	assert.Equal(t, "application/pdf", ContentTypeFor("/tmp/carte-grise.pdf"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("photo"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("photo.bmp"))
}

func TestUpload_MultipartConvention(t *testing.T) {
	type seen struct {
		operations string
		fileMap    string
		filename   string
		mime       string
		content    string
		auth       string
	}
	got := make(chan seen, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("0")
		require.NoError(t, err)
		content, _ := io.ReadAll(file)
		got <- seen{
			operations: r.FormValue("operations"),
			fileMap:    r.FormValue("map"),
			filename:   header.Filename,
			mime:       header.Header.Get("Content-Type"),
			content:    string(content),
			auth:       r.Header.Get("Authorization"),
		}
		io.WriteString(w, `{"data":{"televerserImage":"/uploads/42.png","autre":"x"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock(), WithCredentials(CredentialFunc(func(context.Context) (string, error) {
		return "tok", nil
	})))

	data, err := client.Upload(context.Background(),
		`mutation Televerser($fichier: Upload!, $dossier: String) { televerserImage(fichier: $fichier, dossier: $dossier) }`,
		Variables{"dossier": "vehicules"}, "fichier",
		File{Name: "/home/me/voiture.png", Content: strings.NewReader("PNGDATA")})
	require.NoError(t, err)

	var url string
	require.NoError(t, json.Unmarshal(data, &url))
	assert.Equal(t, "/uploads/42.png", url)

	s := <-got
	assert.JSONEq(t, `{"0":["variables.fichier"]}`, s.fileMap)
	assert.Equal(t, "voiture.png", s.filename)
	assert.Equal(t, "image/png", s.mime)
	assert.Equal(t, "PNGDATA", s.content)
	assert.Equal(t, "Bearer tok", s.auth)

	var ops requestBody
	require.NoError(t, json.Unmarshal([]byte(s.operations), &ops))
	assert.Contains(t, ops.Variables, "fichier")
	assert.Nil(t, ops.Variables["fichier"])
	assert.Equal(t, "vehicules", ops.Variables["dossier"])
}

func TestFirstField_PreservesOrder(t *testing.T) {
	first, err := firstField(json.RawMessage(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, "1", string(first))

	_, err = firstField(json.RawMessage(`{"a":null}`))
	assert.ErrorIs(t, err, ErrNoData)

	_, err = firstField(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
