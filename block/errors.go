package block

import "errors"

// Block validation errors
var (
	ErrNotBlock     = errors.New("not a block")
	ErrIntegrity    = errors.New("block integrity check failed")
	ErrInvalidField = errors.New("invalid block field")
)
