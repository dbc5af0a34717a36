package postcode

import "errors"

var (
	// ErrNoMatch means an area could not be resolved to any outcode.
	ErrNoMatch = errors.New("no outcodes found for area")
	// ErrInvalidOutcode means postcodes.io does not know the outcode.
	ErrInvalidOutcode = errors.New("invalid outcode")
	// ErrUnknownPostcode means postcodes.io has no coordinates for a postcode.
	ErrUnknownPostcode = errors.New("unknown postcode")
)
