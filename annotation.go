package mailstore

import (
	"context"

	"github.com/rbaliyan/mailstore/store"
)

// Annotations returns the entries of the named mailbox matching keys, or
// all entries when keys is empty. Backends without annotation support
// return ErrNotSupported.
func (s *Session) Annotations(ctx context.Context, name string, keys ...string) ([]store.Annotation, error) {
	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.annotationMapper(ctx)
	if err != nil {
		return nil, err
	}
	out, err := mapper.Annotations(ctx, mb, keys...)
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// SetAnnotations upserts entries on the named mailbox. An empty value
// removes the entry.
func (s *Session) SetAnnotations(ctx context.Context, name string, annotations ...store.Annotation) error {
	for _, a := range annotations {
		if err := ValidateAnnotation(a, s.m.opts.limits); err != nil {
			return err
		}
	}
	mb, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	mapper, err := s.annotationMapper(ctx)
	if err != nil {
		return err
	}
	return wrap(mapper.SetAnnotations(ctx, mb, annotations...))
}
