package peerset

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
