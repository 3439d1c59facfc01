package extract

import "errors"

var (
	// ErrNoText is returned when a provider succeeds but yields no usable text,
	// typically a scanned source without OCR.
	ErrNoText = errors.New("no extractable text")

	// ErrProviderStatus is returned for non-success provider responses. It is not retried.
	ErrProviderStatus = errors.New("extraction provider returned non-success status")

	// ErrNotText is returned alongside ErrNoText when the output is binary rather than text.
	ErrNotText = errors.New("extracted content is not text")

	// ErrSourceTooLarge is returned when a stored file exceeds the download limit.
	ErrSourceTooLarge = errors.New("source file too large")

	// ErrUnsupportedSource is returned when no configured extractor can handle a source.
	ErrUnsupportedSource = errors.New("unsupported source")
)
