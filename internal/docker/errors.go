package docker

import "errors"

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrNotInitialized is returned by methods called on a nil Client.
var ErrNotInitialized = errors.New("docker client not initialized")
