package imagestore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/AJM432/racing/pkg/apperr"
)

// Images decodes data-URL images and persists them through a Backend under fresh names
type Images struct {
	backend Backend
	newName func() string
}

// New creates an Images persistence layer on top of backend
func New(backend Backend) *Images {
	return &Images{
		backend: backend,
		newName: func() string { return uuid.NewString() },
	}
}

// Store decodes encoded and writes it under a new name, returning its locator
func (i *Images) Store(ctx context.Context, encoded string) (string, error) {
	format, data, err := Decode(encoded)
	if err != nil {
		return "", err
	}
	locator, err := i.backend.Put(ctx, i.newName()+format.Ext(), data)
	if err != nil {
		return "", apperr.DecodeFailure("failed to store image", err)
	}
	return locator, nil
}

// Replacement is a stored image that has not yet superseded the old one.
// Exactly one of Commit or Rollback should be called once the owning record is settled.
type Replacement struct {
	Old     string
	New     string
	backend Backend
}

// Replace stores encoded under a new name. The old image is left in place until Commit.
func (i *Images) Replace(ctx context.Context, old, encoded string) (*Replacement, error) {
	locator, err := i.Store(ctx, encoded)
	if err != nil {
		return nil, err
	}
	return &Replacement{Old: old, New: locator, backend: i.backend}, nil
}

// Commit removes the superseded image
func (r *Replacement) Commit(ctx context.Context) error {
	if r.Old == "" || r.Old == r.New {
		return nil
	}
	return r.backend.Delete(ctx, r.Old)
}

// Rollback removes the new image, leaving the old one as the current image
func (r *Replacement) Rollback(ctx context.Context) error {
	return r.backend.Delete(ctx, r.New)
}

// Discard removes a stored image whose record was never committed
func (i *Images) Discard(ctx context.Context, locator string) error {
	return i.backend.Delete(ctx, locator)
}

// Load returns the bytes and format stored under locator
func (i *Images) Load(ctx context.Context, locator string) ([]byte, Format, error) {
	format, ok := FormatFromLocator(locator)
	if !ok {
		return nil, "", apperr.NotFound("image", locator)
	}
	data, err := i.backend.Get(ctx, locator)
	if err != nil {
		if errors.Is(err, ErrMissing) {
			return nil, "", apperr.NotFound("image", locator)
		}
		return nil, "", apperr.DecodeFailure("failed to read image", err)
	}
	return data, format, nil
}

// DataURL loads the image under locator and re-encodes it as a data URL
func (i *Images) DataURL(ctx context.Context, locator string) (string, error) {
	data, format, err := i.Load(ctx, locator)
	if err != nil {
		return "", err
	}
	return Encode(format, data), nil
}
