package shared

import "fmt"

var (
	// Configuration errors. These are fatal at startup.
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrCyclicTasks   = fmt.Errorf("cyclic task dependencies")

	// Daemon and catalog errors
	ErrDaemonUnavailable = fmt.Errorf("slskd unavailable")
	ErrDaemonRequest     = fmt.Errorf("slskd request failed")
	ErrTimeout           = fmt.Errorf("operation timed out")
	ErrCatalogRequest    = fmt.Errorf("catalog request failed")
	ErrPlaylistPrivate   = fmt.Errorf("playlist private or invalid")

	// Store errors
	ErrTrackNotFound    = fmt.Errorf("track not found")
	ErrPlaylistNotFound = fmt.Errorf("playlist not found")
	ErrTaskNotFound     = fmt.Errorf("task not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
