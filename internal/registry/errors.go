package registry

import (
	"errors"
	"strings"

	"model_registry/internal/storage"

	"github.com/zeebo/errs"
)

// Error classes returned by the service. Callers branch on them with
// Has, e.g. ErrNotFound.Has(err).
var (
	ErrNotFound        = errs.Class("not found")
	ErrConflict        = errs.Class("conflict")
	ErrInvalidArgument = errs.Class("invalid argument")
	ErrUploadFailure   = errs.Class("upload failure")
	ErrInternal        = errs.Class("internal")
)

// Kind names the class of an error.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInvalidArgument Kind = "invalid_argument"
	KindUploadFailure   Kind = "upload_failure"
	KindInternal        Kind = "internal"
)

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case ErrNotFound.Has(err):
		return KindNotFound
	case ErrConflict.Has(err):
		return KindConflict
	case ErrInvalidArgument.Has(err):
		return KindInvalidArgument
	case ErrUploadFailure.Has(err):
		return KindUploadFailure
	default:
		return KindInternal
	}
}

// classified reports whether err already carries one of the classes.
func classified(err error) bool {
	return ErrNotFound.Has(err) || ErrConflict.Has(err) || ErrInvalidArgument.Has(err) ||
		ErrUploadFailure.Has(err) || ErrInternal.Has(err)
}

// uploadFailure wraps unexpected errors of the upload paths.
func uploadFailure(err error) error {
	if err == nil || classified(err) {
		return err
	}
	return ErrUploadFailure.Wrap(err)
}

// storeError translates storage sentinels. notFound is the message used
// for a missing model, version or alias.
func storeError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case classified(err):
		return err
	case errors.Is(err, storage.ErrModelNotFound):
		return ErrNotFound.New("Model not found")
	case errors.Is(err, storage.ErrVersionNotFound), errors.Is(err, storage.ErrAliasNotFound):
		return ErrNotFound.New("%s", notFound)
	case errors.Is(err, storage.ErrDuplicate):
		return ErrConflict.Wrap(err)
	default:
		return ErrInternal.Wrap(err)
	}
}

// Message returns err's text without its class prefix, for API replies.
func Message(err error) string {
	msg := err.Error()
	for _, c := range []*errs.Class{&ErrNotFound, &ErrConflict, &ErrInvalidArgument, &ErrUploadFailure, &ErrInternal} {
		if c.Has(err) {
			return strings.TrimPrefix(msg, string(*c)+": ")
		}
	}
	return msg
}
