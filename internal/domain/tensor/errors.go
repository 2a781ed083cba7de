package tensor

import "errors"

var ErrShape = errors.New("invalid tensor shape")
