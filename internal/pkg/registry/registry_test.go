package registry

import (
	"errors"
	"net/http"
	"testing"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

func TestDefaultPlatformLinux(t *testing.T) {
	p := DefaultPlatform()
	if p.OS != "linux" {
		t.Errorf("OS = %q, want linux", p.OS)
	}
}

func TestWrapRegistryErrMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errkind.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, errkind.AuthRequired},
		{"forbidden", http.StatusForbidden, errkind.AuthFailed},
		{"not found", http.StatusNotFound, errkind.NotFound},
		{"server error", http.StatusInternalServerError, errkind.Network},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			terr := &transport.Error{StatusCode: tc.status}
			err := wrapRegistryErr(terr, "example.com/repo:tag")
			if errkind.Of(err) != tc.want {
				t.Errorf("wrapRegistryErr(%d) kind = %v, want %v", tc.status, errkind.Of(err), tc.want)
			}
		})
	}
}

func TestClassifyMarksAuthFailuresPermanent(t *testing.T) {
	terr := &transport.Error{StatusCode: http.StatusUnauthorized}
	err := classify(terr)

	var perr *permanentError
	if !errors.As(err, &perr) {
		t.Errorf("classify(401) = %v, want *permanentError", err)
	}
}

func TestClassifyLeavesServerErrorsRetryable(t *testing.T) {
	terr := &transport.Error{StatusCode: http.StatusInternalServerError}
	err := classify(terr)

	var perr *permanentError
	if errors.As(err, &perr) {
		t.Errorf("classify(500) = %v, want a retryable error", err)
	}
}
