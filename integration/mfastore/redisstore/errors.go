package redisstore

import "errors"

// ErrMalformedRecord is returned when a stored credential hash cannot be decoded.
var ErrMalformedRecord = errors.New("redisstore: malformed credential record")
