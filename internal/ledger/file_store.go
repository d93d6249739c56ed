package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists artifacts as one JSON record per line in an append-only
// file. The operational append-only guarantee (permissions, write-once media)
// is assumed to be provided by the deployment; this store never rewrites in
// place and fsyncs after every record.
type FileStore struct {
	path string
}

// NewFileStore ensures the parent directory exists and returns a FileStore
// writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger file path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Append(ctx context.Context, a *ProofArtifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	b = append(b, '\n')

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer file.Close()

	// One Write call per record keeps the append atomic at the POSIX level for
	// records below the pipe-buffer size; fsync makes it durable.
	if _, err := file.Write(b); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}
	return nil
}

func (f *FileStore) ReadAll(ctx context.Context) ([]ProofArtifact, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer file.Close()

	var out []ProofArtifact
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var a ProofArtifact
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode ledger line %d: %w", line, err)
		}
		out = append(out, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger file: %w", err)
	}
	return out, nil
}

func (f *FileStore) Tail(ctx context.Context) (*ProofArtifact, error) {
	all, err := f.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	a := all[len(all)-1]
	return &a, nil
}

func (f *FileStore) Ping(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("ledger dir unavailable: %w", err)
	}
	return nil
}
