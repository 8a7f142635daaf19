package store

import "errors"

var ErrUnknownBackend = errors.New("unknown store backend")
