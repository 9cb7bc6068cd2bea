// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"time"
)

// retrySchedule bounds the total time spent waiting on a busy
// backend to roughly three seconds.
var retrySchedule = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	1 * time.Second,
}

// Retry runs op, retrying with backoff while it reports ErrBusy.
// Any other error, including ErrCorrupt, returns immediately. The
// final ErrBusy is returned when the schedule is exhausted.
func Retry(op func() error) error {
	var err error
	for _, wait := range retrySchedule {
		err = op()
		if !errors.Is(err, ErrBusy) {
			return err
		}
		time.Sleep(wait)
	}
	return op()
}
