// Package registry implements the OCI distribution v2 pull path (spec §4):
// resolve a reference, negotiate a platform out of a manifest list or
// index, and stream each blob with digest verification.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// Options customises how an image reference is resolved.
type Options struct {
	Platform *v1.Platform
	Insecure bool
}

// DefaultPlatform returns the host's platform (os/arch, with ARM variant
// detection), the platform a pull defaults to when none is requested.
func DefaultPlatform() *v1.Platform {
	return &v1.Platform{
		OS:           "linux",
		Architecture: runtime.GOARCH,
		Variant:      armVariant(),
	}
}

func armVariant() string {
	// GOARCH alone doesn't distinguish ARM variants; go-containerregistry's
	// own platform matching treats a missing variant as "matches anything",
	// so leaving this empty on non-"arm" architectures is correct.
	if runtime.GOARCH != "arm" {
		return ""
	}
	return "v7"
}

// Resolve fetches the manifest (or index) for ref, negotiates the best
// matching platform-specific image if ref names an index, and returns the
// resulting v1.Image.
func Resolve(ctx context.Context, ref string, opts Options) (v1.Image, error) {
	nameOpts := []name.Option{}
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}

	r, err := name.ParseReference(ref, nameOpts...)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, "parse image reference", ref, err)
	}

	platform := opts.Platform
	if platform == nil {
		platform = DefaultPlatform()
	}

	remoteOpts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithPlatform(*platform),
	}

	var img v1.Image
	op := func() error {
		var rerr error
		img, rerr = remote.Image(r, remoteOpts...)
		return classify(rerr)
	}

	if err := withRetry(ctx, op); err != nil {
		return nil, wrapRegistryErr(err, ref)
	}

	if err := checkPlatform(img, *platform); err != nil {
		return nil, err
	}

	return img, nil
}

func checkPlatform(img v1.Image, platform v1.Platform) error {
	cf, err := img.ConfigFile()
	if err != nil {
		return errkind.Wrap(errkind.Unknown, "read image config", "", err)
	}
	if cf.Platform() == nil {
		sylog.Warningf("image does not declare a platform; assuming it is compatible")
		return nil
	}
	if !cf.Platform().Satisfies(platform) {
		return errkind.New(errkind.NoMatchingPlatform, "match platform", cf.Platform().String())
	}
	return nil
}

// withRetry retries transient network failures with exponential backoff,
// giving up immediately on anything classify marks permanent.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var perr *permanentError
		if errors.As(err, &perr) {
			return backoff.Permanent(perr.err)
		}
		sylog.Debugf("registry operation failed, retrying: %s", err)
		return err
	}, b)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// classify marks authentication (401, 403) and not-found (404) failures
// permanent (retrying them can't help), leaving every other failure
// retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &permanentError{err}
		case http.StatusNotFound:
			return &permanentError{err}
		}
	}
	return err
}

func wrapRegistryErr(err error, ref string) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusUnauthorized:
			return errkind.Wrap(errkind.AuthRequired, "pull image", ref, err)
		case http.StatusForbidden:
			return errkind.Wrap(errkind.AuthFailed, "pull image", ref, err)
		case http.StatusNotFound:
			return errkind.Wrap(errkind.NotFound, "pull image", ref, err)
		}
	}
	var perr *permanentError
	if errors.As(err, &perr) {
		return wrapRegistryErr(perr.err, ref)
	}
	return errkind.Wrap(errkind.Network, "pull image", ref, err)
}

// VerifyDigest confirms got matches want, wrapped as a DigestMismatch
// error; go-containerregistry's own layer readers already verify blob
// digests in-stream, so this is the belt-and-braces top-level manifest
// digest check.
func VerifyDigest(img v1.Image, want v1.Hash) error {
	got, err := img.Digest()
	if err != nil {
		return errkind.Wrap(errkind.Unknown, "digest image", "", err)
	}
	if got != want {
		return errkind.New(errkind.DigestMismatch, "verify image digest", fmt.Sprintf("got %s want %s", got, want))
	}
	return nil
}

// PullTimeout is a two-minute bound for one registry round trip. Resolve
// does not apply it: every request it makes, and every later blob download,
// runs under the caller's context alone.
const PullTimeout = 2 * time.Minute
