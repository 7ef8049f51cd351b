package oracle

import (
	"context"
	"time"
)

// Reporter is the part of testing.TB used to report expectation failures
type Reporter interface {
	Helper()
	Errorf(format string, args ...any)
}

// ExpectPacketOn reports a failure if the expected packet is not observed on the named capture point
func (o *Oracle) ExpectPacketOn(t Reporter, name string, expected []byte, timeout time.Duration) bool {
	t.Helper()
	if err := o.Verify(context.Background(), name, expected, timeout); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}

// ExpectNoPacketOn reports a failure if any non-noise packet is observed on the named capture point
func (o *Oracle) ExpectNoPacketOn(t Reporter, name string, quiet time.Duration) bool {
	t.Helper()
	if err := o.VerifyNone(context.Background(), name, quiet); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}
