// Package exit_handler runs registered cleanup functions at program exit, including when the program is
// stopped by SIGINT or SIGTERM.  Call Install once from main, RunExitFuncs before returning from main, and Exit
// instead of os.Exit.
package exit_handler

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type exitFunc struct {
	f    func()
	once sync.Once
}

var (
	lock      sync.Mutex
	exitFuncs []*exitFunc
	installed sync.Once
)

// AddExitFunc registers a function to run at exit.  Functions run in reverse order of registration.  The
// returned function runs f at most once, so it can also be called early, for example in a defer.
func AddExitFunc(f func()) func() {
	ef := &exitFunc{}
	ef.f = func() {
		ef.once.Do(f)
	}
	lock.Lock()
	exitFuncs = append(exitFuncs, ef)
	lock.Unlock()
	return ef.f
}

// RunExitFuncs runs every registered function that has not already run
func RunExitFuncs() {
	lock.Lock()
	funcs := make([]*exitFunc, len(exitFuncs))
	copy(funcs, exitFuncs)
	lock.Unlock()
	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i].f()
	}
}

// Exit runs the exit functions and then exits with the given code
func Exit(code int) {
	RunExitFuncs()
	os.Exit(code)
}

// signalCode is the conventional shell exit code for a process killed by a signal
func signalCode(s os.Signal) int {
	if sig, ok := s.(syscall.Signal); ok {
		return 128 + int(sig)
	}
	return 255
}

// Install starts the signal handler.  Calling it more than once has no further effect.
func Install() {
	installed.Do(func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			Exit(signalCode(<-sigs))
		}()
	})
}
