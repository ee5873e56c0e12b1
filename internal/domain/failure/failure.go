// Package failure declares the error taxonomy shared across components.
//
// Each sentinel is a marker: wrap the underlying cause with the matching
// constructor and test with errors.Is.
package failure

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrMetadataUnavailable means tags could not be read from an audio file.
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	// ErrFetchFailed means the catalog backend could not deliver a resource.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrTranscodeFailed means the transcode capability rejected the payload.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrStoreIOFailed means the blob store could not complete an operation.
	ErrStoreIOFailed = errors.New("store i/o failed")
)

// MetadataUnavailable marks err as ErrMetadataUnavailable.
func MetadataUnavailable(err error, format string, args ...any) error {
	return mark(err, ErrMetadataUnavailable, format, args...)
}

// FetchFailed marks err as ErrFetchFailed.
func FetchFailed(err error, format string, args ...any) error {
	return mark(err, ErrFetchFailed, format, args...)
}

// TranscodeFailed marks err as ErrTranscodeFailed.
func TranscodeFailed(err error, format string, args ...any) error {
	return mark(err, ErrTranscodeFailed, format, args...)
}

// StoreIOFailed marks err as ErrStoreIOFailed.
func StoreIOFailed(err error, format string, args ...any) error {
	return mark(err, ErrStoreIOFailed, format, args...)
}

func mark(err, kind error, format string, args ...any) error {
	if err == nil {
		err = errors.Newf(format, args...)
	} else {
		err = errors.Wrapf(err, format, args...)
	}
	return errors.Mark(err, kind)
}
