//go:build !unix

package capture

import (
	"os"
	"runtime"
)

// uname mirrors the unix layout with what the runtime knows
func uname() []string {
	host, _ := os.Hostname()
	return []string{runtime.GOOS, host, "", "", runtime.GOARCH}
}
