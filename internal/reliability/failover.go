package reliability

import (
	"errors"
	"fmt"
)

type FailureStrategy string

const (
	FailOpen   FailureStrategy = "fail_open"
	FailClosed FailureStrategy = "fail_closed"
)

var ErrPanic = errors.New("recovered panic")

// ShouldAllow determines if we should proceed given an error and a strategy
func ShouldAllow(strategy FailureStrategy, err error) bool {
	if err == nil {
		return true
	}
	return strategy == FailOpen
}

// StrategyFor maps a criticality flag to its failure strategy.
func StrategyFor(critical bool) FailureStrategy {
	if critical {
		return FailClosed
	}
	return FailOpen
}

// Guard runs fn and turns a panic into an error wrapping ErrPanic.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}
