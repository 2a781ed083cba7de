package augment

import "errors"

// ErrSurface reports that an output canvas could not be produced.
var ErrSurface = errors.New("augmentation surface unavailable")
