package supervisor

import (
	"bufio"
	"io"
	"strings"
)

// WatchShutdown blocks reading the control pipe until the shutdown message
// arrives (or the pipe closes, meaning the master is gone), then calls stop.
// Workers run this against os.Stdin in a goroutine.
func WatchShutdown(r io.Reader, stop func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == ShutdownMessage {
			break
		}
	}
	stop()
}
