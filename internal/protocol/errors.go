package protocol

import "errors"

var (
	ErrProtocol       = errors.New("protocol: malformed frame")
	ErrTimeout        = errors.New("protocol: response timeout")
	ErrCapability     = errors.New("protocol: unsupported on this device variant")
	ErrUnknownVariant = errors.New("protocol: unknown device variant")
	ErrPortRange      = errors.New("protocol: port number out of range")
)
