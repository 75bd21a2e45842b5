// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "errors"

// Sentinel errors shared by the store, the reconciler, and the API
// edge. The HTTP layer maps ErrInvalidArgument to 400 and ErrNotFound
// to 404; everything else is a 500.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)
