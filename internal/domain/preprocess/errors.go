package preprocess

import "errors"

// ErrDecode reports input that could not be turned into pixel data.
var ErrDecode = errors.New("image decode failed")
