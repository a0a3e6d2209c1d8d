package scheduler

import "errors"

var (
	ErrClosed        = errors.New("scheduler: session is closed")
	ErrUnknownHandle = errors.New("scheduler: unknown handle")
	ErrInboxFull     = errors.New("scheduler: inbox is full, the session is not being ticked")
	ErrForeignTrack  = errors.New("scheduler: track is not part of the session's score")
)
