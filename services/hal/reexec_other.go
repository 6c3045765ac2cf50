//go:build !unix

package hal

import "doorbell-go/errcode"

func reexec() error { return errcode.Unsupported }
