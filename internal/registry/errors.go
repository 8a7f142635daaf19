package registry

import "errors"

var (
	ErrChannelExists = errors.New("channel already exists")
	ErrEmptyID       = errors.New("channel id cannot be empty")
)
