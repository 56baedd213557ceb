package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrPageNotPooled is the cause of a NavigationError when a pool has no tab for a URL.
	ErrPageNotPooled = errors.New("no pooled page for url")
	// ErrForeignHandle is returned when a handle issued by another implementation is passed in.
	ErrForeignHandle = errors.New("page handle was not issued by this browser")
	// ErrPageClosed is returned for operations on a handle that has already been released.
	ErrPageClosed = errors.New("page has been released")
	// ErrManagerClosed is the cause of a NavigationError after Shutdown.
	ErrManagerClosed = errors.New("browser manager has been shut down")
)

// NavigationError reports that a page could not be obtained or loaded.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ViewportError reports that the page could not be resized.
type ViewportError struct {
	URL    string
	Width  int
	Height int
	Err    error
}

func (e *ViewportError) Error() string {
	return fmt.Sprintf("setting viewport %dx%d on %s failed: %v", e.Width, e.Height, e.URL, e.Err)
}

func (e *ViewportError) Unwrap() error { return e.Err }

// EvaluationError reports that an in-page script failed, timed out or returned a reply
// that could not be decoded.
type EvaluationError struct {
	URL    string
	Script string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %s on %s failed: %v", e.Script, e.URL, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
