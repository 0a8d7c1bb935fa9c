package mjpegcapture

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_Apply(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want string
	}{
		{"none", NoCredential(), ""},
		{"zero value", Credential{}, ""},
		{"basic", BasicCredential("user", "pass"), "Basic dXNlcjpwYXNz"},
		{"empty password", BasicCredential("admin", ""), "Basic YWRtaW46"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "http://camera/video", nil)
			require.NoError(t, err)

			tt.cred.Apply(req)
			assert.Equal(t, tt.want, req.Header.Get("Authorization"))
		})
	}
}

func TestCredentialFromUserinfo(t *testing.T) {
	assert.Equal(t, CredentialNone, CredentialFromUserinfo(nil).Kind())

	c := CredentialFromUserinfo(url.UserPassword("admin", "secret"))
	assert.Equal(t, CredentialBasic, c.Kind())
	assert.Equal(t, "admin", c.Username())

	c = CredentialFromUserinfo(url.User("viewer"))
	assert.Equal(t, CredentialBasic, c.Kind())
	assert.Equal(t, "viewer", c.Username())
}

func TestCredential_NeverLogsPassword(t *testing.T) {
	cred := BasicCredential("admin", "hunter2")

	assert.Equal(t, "basic(admin:***)", cred.String())
	assert.Equal(t, "none", NoCredential().String())

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("opening", "credential", cred)

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "admin")
}
