package intrinsics

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	hashiversion "github.com/hashicorp/go-version"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Downloader implements the DownloadFile intrinsic: an HTTP GET verified
// against an expected Digest, retried with exponential backoff on transient
// failure, and optionally checked against a semantic-version constraint
// reported via a response header (§4.H "DownloadFile").
type Downloader struct {
	client      *http.Client
	store       store
	versionHdr  string
	newBackOff  func() backoff.BackOff
}

// NewDownloader builds a Downloader storing fetched bytes in st. versionHdr
// names the response header a server may use to report the downloaded
// artifact's version for constraint checking (empty disables the check
// even when a constraint is supplied).
func NewDownloader(client *http.Client, st store, versionHdr string) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		client:     client,
		store:      st,
		versionHdr: versionHdr,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Download fetches url, retrying transient failures, and fails unless the
// fetched content hashes to expected. If constraint is non-empty and the
// server reports a version, the reported version must satisfy it.
func (d *Downloader) Download(ctx context.Context, url string, expected digest.Digest, constraint string) (digest.Digest, error) {
	var body []byte
	var reportedVersion string

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(strataerrors.New(strataerrors.KindUser, err))
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return strataerrors.New(strataerrors.KindIO, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return strataerrors.Newf(strataerrors.KindIO, "intrinsics: download %s: server error %d", url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(strataerrors.Newf(strataerrors.KindUser, "intrinsics: download %s: status %d", url, resp.StatusCode))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return strataerrors.New(strataerrors.KindIO, err)
		}
		body = b
		if d.versionHdr != "" {
			reportedVersion = resp.Header.Get(d.versionHdr)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx)); err != nil {
		if strataerrors.KindOf(err) == strataerrors.KindIO {
			return digest.Digest{}, strataerrors.New(strataerrors.KindEngine, err)
		}
		return digest.Digest{}, err
	}

	got := digest.Of(body)
	if got != expected {
		return digest.Digest{}, strataerrors.Newf(strataerrors.KindUser,
			"intrinsics: download %s: digest mismatch: got %s, expected %s", url, got, expected)
	}

	if constraint != "" && reportedVersion != "" {
		if err := checkVersionConstraint(reportedVersion, constraint); err != nil {
			return digest.Digest{}, strataerrors.New(strataerrors.KindUser, fmt.Errorf("intrinsics: download %s: %w", url, err))
		}
	}

	return d.store.StoreBytes(ctx, body)
}

func checkVersionConstraint(reported, constraint string) error {
	v, err := hashiversion.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("parsing reported version %q: %w", reported, err)
	}
	cs, err := hashiversion.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parsing version constraint %q: %w", constraint, err)
	}
	if !cs.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %q", v, constraint)
	}
	return nil
}
