//go:build !linux || (!arm && !arm64)

package power

import "fmt"

func openLine(name string) (outputLine, error) {
	return nil, fmt.Errorf("power: gpio unsupported on this platform")
}

var openLineFn = openLine
