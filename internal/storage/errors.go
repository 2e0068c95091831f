package storage

import "errors"

// ErrEmptyPath is returned when a journal is created without a file path
var ErrEmptyPath = errors.New("journal path must not be empty")

// ErrInvalidExecution is returned for executions missing their option or order id
var ErrInvalidExecution = errors.New("execution requires exchange, option and order id")
