package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voxrelay/internal/pcm"
)

// wavDump appends every chunk handed to the backend to a WAV file whose size
// fields are patched on close.
type wavDump struct {
	path string

	mu    sync.Mutex
	file  *os.File
	bytes int
}

func (o *Orchestrator) openDump() *wavDump {
	if o.cfg.DumpDir == "" {
		return nil
	}
	rate := o.cfg.Chunker.SampleRate
	if rate <= 0 {
		rate = pcm.SampleRate
	}
	dump, err := createWAVDump(o.cfg.DumpDir, rate)
	if err != nil {
		o.logger.Warn("unable to create audio dump", "error", err.Error())
		return nil
	}
	return dump
}

func createWAVDump(dir string, sampleRate int) (*wavDump, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("audio-%s.wav", timestamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	if err := pcm.WriteWAV(file, nil, sampleRate, 1); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return &wavDump{path: path, file: file}, nil
}

func (d *wavDump) write(chunk []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return os.ErrClosed
	}
	n, err := d.file.Write(pcm.Bytes(chunk))
	d.bytes += n
	return err
}

func (d *wavDump) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	file := d.file
	d.file = nil
	if err := pcm.PatchWAVSize(file, d.bytes); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// DebugDir returns the audio dump directory under XDG_STATE_HOME.
func DebugDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "voxrelay", "debug"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state", "voxrelay", "debug"), nil
}
