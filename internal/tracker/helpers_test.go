package tracker

import (
	"log"
	"runtime/debug"
	"testing"
)

func valueEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		log.Println(a, " ", b)
		debug.PrintStack()
		t.Fatal()
	}
}

func trueEqual(t *testing.T, b bool) {
	t.Helper()
	if !b {
		debug.PrintStack()
		t.Fatal()
	}
}

func falseEqual(t *testing.T, b bool) {
	t.Helper()
	if b {
		debug.PrintStack()
		t.Fatal()
	}
}
