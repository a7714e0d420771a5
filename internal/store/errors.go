package store

import "errors"

// Sentinel errors returned by store operations.
var (
	ErrTagNotFound        = errors.New("tag not found")
	ErrTagExists          = errors.New("tag already exists")
	ErrFileNotFound       = errors.New("file not found")
	ErrFileExists         = errors.New("file already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrBatchNotFound      = errors.New("import batch not found")
	ErrBatchExists        = errors.New("import batch already exists")
)
