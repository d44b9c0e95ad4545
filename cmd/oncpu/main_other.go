//go:build !linux

package main

import (
	"fmt"
	"os"
	"runtime"
)

func main() {
	fmt.Fprintf(os.Stderr, "oncpu needs a Linux kernel with BTF, not %s\n", runtime.GOOS)
	os.Exit(1)
}
