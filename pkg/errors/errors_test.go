package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRecoverable, KindOf(io.ErrUnexpectedEOF))
	assert.Equal(t, KindPermanent, KindOf(Permanent(404, "gone")))
	assert.Equal(t, KindSkip, KindOf(fmt.Errorf("resolve: %w", Skip("unresolvable filename"))))
}

func TestPredicates(t *testing.T) {
	assert.False(t, IsRecoverable(nil))
	assert.True(t, IsRecoverable(stderrors.New("connection reset")))
	assert.True(t, IsPermanent(Permanent(403, "forbidden")))
	assert.True(t, IsSkip(Skip("excluded")))
	assert.False(t, IsSkip(Permanent(410, "gone")))
}

func TestStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("download: %w", HTTPStatus(503, "https://a.example/x.jpg"))
	assert.Equal(t, 503, StatusCode(wrapped))
	assert.Equal(t, 0, StatusCode(io.EOF))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestFaultError(t *testing.T) {
	f := HTTPStatus(404, "https://a.example/x.jpg")
	assert.Contains(t, f.Error(), "status 404")
	assert.Contains(t, f.Error(), "Not Found")

	r := Recoverable(io.ErrUnexpectedEOF)
	assert.Equal(t, "recoverable fault: unexpected EOF", r.Error())
	assert.ErrorIs(t, r, io.ErrUnexpectedEOF)
}

func TestIsClientStatus(t *testing.T) {
	assert.True(t, IsClientStatus(400))
	assert.True(t, IsClientStatus(404))
	assert.False(t, IsClientStatus(429))
	assert.False(t, IsClientStatus(500))
	assert.False(t, IsClientStatus(0))
}

func TestClassify(t *testing.T) {
	retryAlways := []string{"media-files.bunkr"}

	tests := []struct {
		name string
		err  error
		host string
		want Kind
	}{
		{"404 is permanent", HTTPStatus(404, "u"), "cyberdrop.me", KindPermanent},
		{"404 on allow-listed host", HTTPStatus(404, "u"), "media-files.bunkr.ru", KindRecoverable},
		{"429 is recoverable", HTTPStatus(429, "u"), "cyberdrop.me", KindRecoverable},
		{"503 is recoverable", HTTPStatus(503, "u"), "cyberdrop.me", KindRecoverable},
		{"plain error is recoverable", io.ErrUnexpectedEOF, "cyberdrop.me", KindRecoverable},
		{"skip passes through", Skip("excluded"), "cyberdrop.me", KindSkip},
		{"wrapped status", fmt.Errorf("get: %w", HTTPStatus(403, "u")), "pixeldrain.com", KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, tt.host, retryAlways)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, Classify(nil, "x", retryAlways))
}
