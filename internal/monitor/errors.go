package monitor

import "errors"

// ErrChatDisabled is returned by Generate while no server is running.
var ErrChatDisabled = errors.New("chat is available only while the server is running")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("controller closed")
