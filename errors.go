package mssqlfixture

import "errors"

var (
	// ErrDisposed is returned by Acquire after Close.
	ErrDisposed = errors.New("fixture disposed")

	// ErrFailed is returned by Acquire after an earlier Acquire failed. It wraps the original
	// error.
	ErrFailed = errors.New("fixture failed")

	// ErrBusy is returned when Acquire or Close is called while another Acquire is in progress.
	// A fixture is meant to be driven by one test at a time.
	ErrBusy = errors.New("fixture busy")
)
