package petnlp

import "errors"

var (
	// ErrUnknownModel is returned for a model or annotation option that is
	// not configured.
	ErrUnknownModel = errors.New("petnlp: unknown model")

	// ErrEmptyText is returned when annotating text without any content.
	ErrEmptyText = errors.New("petnlp: empty text")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("petnlp: invalid configuration")

	// ErrModelNotTrained is returned when a model is used before it was
	// trained or loaded.
	ErrModelNotTrained = errors.New("petnlp: model not trained")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("petnlp: store is closed")

	// ErrNoDocuments is returned when retraining without any documents.
	ErrNoDocuments = errors.New("petnlp: no documents")
)
