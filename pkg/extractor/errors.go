package extractor

import "errors"

// ErrSlotInUse is returned when the named replication slot is already bound
// to another active consumer (PostgreSQL error code 55006, object_in_use).
// Surfaced distinctly so the caller can detect a stale session rather than
// treating it as an ordinary connection failure.
var ErrSlotInUse = errors.New("extractor: replication slot already in use")

// ErrSlotUnavailable is returned when the named slot does not exist and
// could not be created.
var ErrSlotUnavailable = errors.New("extractor: replication slot does not exist and could not be created")
