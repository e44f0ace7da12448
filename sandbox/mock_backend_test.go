package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type mockProcess struct {
	killOnce   sync.Once
	removeOnce sync.Once
	killed     chan struct{}
	removed    chan struct{}
}

// MockBackend implements Backend for testing
type MockBackend struct {
	mu sync.Mutex

	pingErr     error
	ensureErr   error
	createErr   error
	copyToErr   error
	startErr    error
	copyFromErr error
	removeErr   error

	stdout    string
	stderr    string
	exit      ExitStatus
	exitDelay time.Duration
	// hang keeps the process running until it is killed or removed
	hang bool
	// ignoreKill keeps a hanging process alive until it is removed
	ignoreKill bool
	memory     uint64
	artifacts  []byte

	created      []CreateOptions
	copiedTo     map[string][]byte
	killed       []string
	removed      []string
	removeCtxErr []error
	processes    map[string]*mockProcess
}

func (m *MockBackend) Ping(context.Context) error { return m.pingErr }

func (m *MockBackend) EnsureImage(context.Context, string) error { return m.ensureErr }

func (m *MockBackend) Create(_ context.Context, opts CreateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, opts)
	id := fmt.Sprintf("container-%d", len(m.created))
	if m.processes == nil {
		m.processes = make(map[string]*mockProcess)
	}
	m.processes[id] = &mockProcess{killed: make(chan struct{}), removed: make(chan struct{})}
	return id, nil
}

func (m *MockBackend) CopyTo(_ context.Context, id, _ string, content io.Reader) error {
	if m.copyToErr != nil {
		return m.copyToErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.copiedTo == nil {
		m.copiedTo = make(map[string][]byte)
	}
	m.copiedTo[id] = data
	return nil
}

func (m *MockBackend) process(id string) *mockProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	if !ok {
		p = &mockProcess{killed: make(chan struct{}), removed: make(chan struct{})}
		if m.processes == nil {
			m.processes = make(map[string]*mockProcess)
		}
		m.processes[id] = p
	}
	return p
}

func (m *MockBackend) Start(_ context.Context, id string, stdout, stderr io.Writer) (<-chan ExitStatus, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	_, _ = io.WriteString(stdout, m.stdout)
	_, _ = io.WriteString(stderr, m.stderr)

	p := m.process(id)
	ch := make(chan ExitStatus, 1)
	go func() {
		if m.hang {
			if m.ignoreKill {
				<-p.removed
			} else {
				select {
				case <-p.killed:
				case <-p.removed:
				}
			}
			ch <- ExitStatus{ExitCode: 137}
			return
		}
		time.Sleep(m.exitDelay)
		ch <- m.exit
	}()
	return ch, nil
}

func (m *MockBackend) MemoryUsage(context.Context, string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory, nil
}

func (m *MockBackend) Kill(_ context.Context, id string) error {
	m.mu.Lock()
	m.killed = append(m.killed, id)
	m.mu.Unlock()

	p := m.process(id)
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (m *MockBackend) CopyFrom(context.Context, string, string) (io.ReadCloser, error) {
	if m.copyFromErr != nil {
		return nil, m.copyFromErr
	}
	return io.NopCloser(bytes.NewReader(m.artifacts)), nil
}

func (m *MockBackend) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	m.removed = append(m.removed, id)
	m.removeCtxErr = append(m.removeCtxErr, ctx.Err())
	m.mu.Unlock()

	if m.removeErr != nil {
		return m.removeErr
	}
	p := m.process(id)
	p.removeOnce.Do(func() { close(p.removed) })
	return nil
}

func (m *MockBackend) removedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removed)
}

func (m *MockBackend) killedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.killed)
}

// readArchive returns the regular files of a tar stream keyed by name
func readArchive(data []byte) (map[string]string, map[string]int64, error) {
	files := make(map[string]string)
	modes := make(map[string]int64)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return files, modes, nil
		}
		if err != nil {
			return nil, nil, err
		}
		modes[header.Name] = header.Mode
		if header.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, err
			}
			files[header.Name] = string(content)
		}
	}
}

type tarFile struct {
	name string
	data string
	dir  bool
}

func buildTar(files ...tarFile) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		header := &tar.Header{Name: f.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(f.data))}
		if f.dir {
			header.Typeflag = tar.TypeDir
			header.Size = 0
		}
		_ = tw.WriteHeader(header)
		if !f.dir {
			_, _ = tw.Write([]byte(f.data))
		}
	}
	_ = tw.Close()
	return buf.Bytes()
}
