package exit_handler

import (
	"syscall"
	"testing"
)

func TestExitFuncs(t *testing.T) {
	var order []int
	first := AddExitFunc(func() { order = append(order, 1) })
	AddExitFunc(func() { order = append(order, 2) })
	first()
	RunExitFuncs()
	RunExitFuncs()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("exit funcs ran incorrectly: %v", order)
	}
	if signalCode(syscall.SIGINT) != 130 || signalCode(syscall.SIGTERM) != 143 {
		t.Fatalf("incorrect signal exit codes")
	}
}
