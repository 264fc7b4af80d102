package wire

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

func nilEqual(t *testing.T, err interface{}) {
	t.Helper()
	if err != nil {
		log.Println(err)
		debug.PrintStack()
		t.Fatal()
	}
}
