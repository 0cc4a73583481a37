// Package runtimex contains runtime assertions.
package runtimex

import "errors"

// Assert panics with the given message when the assertion is false.
func Assert(assertion bool, message string) {
	if !assertion {
		panic(errors.New(message))
	}
}

// PanicOnError panics with the given message when err is not nil.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(errors.New(message + ": " + err.Error()))
	}
}
