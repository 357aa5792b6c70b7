//go:build !linux && !darwin && !freebsd

package server

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("server: readiness polling is not supported on %s", runtime.GOOS)

func newPoller(int) (poller, error) { return nil, errUnsupported }

func listenTCP(string, int) (int, string, error) { return -1, "", errUnsupported }

func acceptTCP(int) (int, string, error) { return -1, "", errUnsupported }

func sysRead(int, []byte) (int, error) { return 0, errUnsupported }

func sysWrite(int, []byte) (int, error) { return 0, errUnsupported }

func sysClose(int) error { return errUnsupported }

func isFDExhausted(error) bool { return false }
