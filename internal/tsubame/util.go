package tsubame

import "fmt"

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// arrowf prints a "-> message" status line in the standard colors
func arrowf(format string, args ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format, args...)
}
