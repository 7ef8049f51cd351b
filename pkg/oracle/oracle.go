package oracle

import (
	"bytes"
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"strings"
	"sync"
	"time"
)

var (
	ErrVerificationTimeout  = fmt.Errorf("timed out waiting for packet")
	ErrVerificationMismatch = fmt.Errorf("observed packet does not match")
	ErrUnexpectedPacket     = fmt.Errorf("unexpected packet")
	ErrUnknownCapture       = fmt.Errorf("unknown capture point")
)

// Capture is a source of packets observed on one interface
type Capture interface {
	SubscribePackets() <-chan []byte
	UnsubscribePackets(<-chan []byte)
}

// VerificationError describes a failed expectation on one interface
type VerificationError struct {
	Err       error
	Interface string
	Expected  []byte
	Observed  []byte
	Diff      []string
}

func (e *VerificationError) Error() string {
	sb := strings.Builder{}
	_, _ = fmt.Fprintf(&sb, "%s: %s", e.Interface, e.Err)
	if e.Expected != nil {
		_, _ = fmt.Fprintf(&sb, "\n  expected: %s", Describe(e.Expected))
	}
	if e.Observed != nil {
		_, _ = fmt.Fprintf(&sb, "\n  observed: %s", Describe(e.Observed))
	}
	for _, d := range e.Diff {
		_, _ = fmt.Fprintf(&sb, "\n  %s", d)
	}
	return sb.String()
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

type capturePoint struct {
	src Capture
	ch  <-chan []byte
}

// Oracle holds a subscription on each capture point, so that packets arriving between a stimulus and the
// corresponding Verify call are not lost.
type Oracle struct {
	lock     sync.Mutex
	captures map[string]*capturePoint
	recorder *Recorder
}

type params struct {
	recorder *Recorder
}

// WithRecorder writes every packet the oracle consumes to a pcap recorder
func WithRecorder(r *Recorder) func(*params) {
	return func(p *params) {
		p.recorder = r
	}
}

func New(mods ...func(*params)) *Oracle {
	p := &params{}
	for _, mod := range mods {
		mod(p)
	}
	return &Oracle{
		captures: make(map[string]*capturePoint),
		recorder: p.recorder,
	}
}

// Attach subscribes to a capture point under a name.  Attaching a name twice replaces the earlier capture.
func (o *Oracle) Attach(name string, c Capture) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if old, ok := o.captures[name]; ok {
		old.src.UnsubscribePackets(old.ch)
	}
	o.captures[name] = &capturePoint{
		src: c,
		ch:  c.SubscribePackets(),
	}
}

func (o *Oracle) capture(name string) (*capturePoint, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	cp, ok := o.captures[name]
	if !ok || cp.ch == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapture, name)
	}
	return cp, nil
}

func (o *Oracle) observe(name string, pkt []byte) {
	log.Debugf("%s: observed %s", name, Describe(pkt))
	if o.recorder != nil {
		if err := o.recorder.Record(name, pkt); err != nil {
			log.Warnf("error recording packet: %s", err)
		}
	}
}

// Reset discards every packet already queued on every capture point
func (o *Oracle) Reset() {
	o.lock.Lock()
	defer o.lock.Unlock()
	for name, cp := range o.captures {
		for drained := false; !drained; {
			select {
			case pkt, ok := <-cp.ch:
				if !ok {
					drained = true
					break
				}
				o.observe(name, pkt)
			default:
				drained = true
			}
		}
	}
}

// Verify waits up to timeout for a packet on the named capture point, skipping link noise, and checks that it
// is byte-for-byte identical to the expected image.
func (o *Oracle) Verify(ctx context.Context, name string, expected []byte, timeout time.Duration) error {
	cp, err := o.capture(name)
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return &VerificationError{
				Err:       ErrVerificationTimeout,
				Interface: name,
				Expected:  expected,
			}
		case pkt, ok := <-cp.ch:
			if !ok {
				return &VerificationError{
					Err:       fmt.Errorf("%w: capture closed", ErrVerificationTimeout),
					Interface: name,
					Expected:  expected,
				}
			}
			o.observe(name, pkt)
			if IsNoise(pkt) {
				continue
			}
			if !bytes.Equal(pkt, expected) {
				return &VerificationError{
					Err:       ErrVerificationMismatch,
					Interface: name,
					Expected:  expected,
					Observed:  pkt,
					Diff:      diff(expected, pkt),
				}
			}
			return nil
		}
	}
}

// VerifyNone checks that no packet other than link noise arrives on the named capture point for the quiet
// period.
func (o *Oracle) VerifyNone(ctx context.Context, name string, quiet time.Duration) error {
	cp, err := o.capture(name)
	if err != nil {
		return err
	}
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case pkt, ok := <-cp.ch:
			if !ok {
				return nil
			}
			o.observe(name, pkt)
			if IsNoise(pkt) {
				continue
			}
			return &VerificationError{
				Err:       ErrUnexpectedPacket,
				Interface: name,
				Observed:  pkt,
			}
		}
	}
}

// Close unsubscribes from every capture point
func (o *Oracle) Close() {
	o.lock.Lock()
	defer o.lock.Unlock()
	for name, cp := range o.captures {
		cp.src.UnsubscribePackets(cp.ch)
		delete(o.captures, name)
	}
}
