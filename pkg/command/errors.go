package command

import "errors"

var (
	ErrNotFound           = errors.New("command: proposal not found")
	ErrNotPendingApproval = errors.New("command: proposal is not pending approval")
	ErrNotApproved        = errors.New("command: proposal is not approved")
	ErrNotExecuting       = errors.New("command: proposal is not executing")
	ErrOutOfBounds        = errors.New("command: target value outside allowed range")
	ErrDenied             = errors.New("command: governance denied this command")
)
