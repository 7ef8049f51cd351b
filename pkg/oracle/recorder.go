package oracle

import (
	"fmt"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const snapLen = 65536

type pcapFile struct {
	f *os.File
	w *pcapgo.Writer
}

// Recorder writes observed packets to one raw-IP pcap file per capture point
type Recorder struct {
	lock  sync.Mutex
	dir   string
	files map[string]*pcapFile
}

// NewRecorder creates a recorder writing <dir>/<prefix>-<capture>.pcap files
func NewRecorder(dir string, prefix string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating pcap directory: %w", err)
	}
	return &Recorder{
		dir:   filepath.Join(dir, prefix),
		files: make(map[string]*pcapFile),
	}, nil
}

func (r *Recorder) Record(name string, pkt []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	pf, ok := r.files[name]
	if !ok {
		f, err := os.Create(fmt.Sprintf("%s-%s.pcap", r.dir, name))
		if err != nil {
			return fmt.Errorf("error creating pcap file: %w", err)
		}
		w := pcapgo.NewWriter(f)
		if err = w.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
			_ = f.Close()
			return fmt.Errorf("error writing pcap header: %w", err)
		}
		pf = &pcapFile{f: f, w: w}
		r.files[name] = pf
	}
	return pf.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(pkt),
		Length:        len(pkt),
	}, pkt)
}

// Files returns the paths of the pcap files written so far
func (r *Recorder) Files() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	var names []string
	for _, pf := range r.files {
		names = append(names, pf.f.Name())
	}
	return names
}

func (r *Recorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	var firstErr error
	for name, pf := range r.files {
		if err := pf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing pcap for %s: %w", name, err)
		}
		delete(r.files, name)
	}
	return firstErr
}
