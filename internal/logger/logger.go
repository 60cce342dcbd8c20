package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Rotator is an io.Writer over a log file that rolls it to name.1..name.N
// once MaxSize bytes would be exceeded.
type Rotator struct {
	Filename   string
	MaxSize    int64 // Bytes
	MaxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Setup points the standard logger at stdout plus a rotating file. When the
// file cannot be opened the process keeps logging to stdout only.
func Setup(filename string, maxSizeMB int64, maxBackups int) *Rotator {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if filename == "" {
		return nil
	}

	r := NewRotator(filename, maxSizeMB, maxBackups)
	if err := r.openExistingOrNew(); err != nil {
		log.Printf("Failed to open log file, using stdout only: %v", err)
		return nil
	}
	log.SetOutput(io.MultiWriter(os.Stdout, r))
	return r
}

func NewRotator(filename string, maxSizeMB int64, maxBackups int) *Rotator {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.size > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// keep writing into whatever is open; losing lines is worse
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close flushes and closes the current file.
func (r *Rotator) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotate shifts name.i to name.i+1, moves the live file to name.1 and
// reopens. With MaxBackups <= 0 the live file is simply truncated.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if r.MaxBackups > 0 {
		os.Remove(backupName(r.Filename, r.MaxBackups))
		for i := r.MaxBackups - 1; i >= 1; i-- {
			oldPath := backupName(r.Filename, i)
			if _, err := os.Stat(oldPath); os.IsNotExist(err) {
				continue
			}
			os.Rename(oldPath, backupName(r.Filename, i+1))
		}
		if _, err := os.Stat(r.Filename); err == nil {
			if err := os.Rename(r.Filename, backupName(r.Filename, 1)); err != nil {
				return err
			}
		}
	}

	return r.openNew()
}

func backupName(name string, i int) string {
	return fmt.Sprintf("%s.%d", name, i)
}
