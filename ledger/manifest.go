package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dignetwork/digstore-go/merkle"
)

const (
	// ManifestFile is the append-only list of committed roots.
	ManifestFile = "manifest.dat"

	lockFile = ".manifest.lock"
)

// ManifestPath returns the manifest path inside a store directory.
func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestFile)
}

// ReadManifest returns the committed roots in commit order. A missing
// manifest yields an empty history.
func ReadManifest(dir string) ([]merkle.Hash, error) {
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest content. Blank lines are ignored.
func ParseManifest(data []byte) ([]merkle.Hash, error) {
	var roots []merkle.Hash
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		h, err := merkle.ParseHash(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedManifest, n, err)
		}
		roots = append(roots, h)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	return roots, nil
}

// AppendManifest appends roots to the manifest in a single write.
func AppendManifest(dir string, roots ...merkle.Hash) error {
	if len(roots) == 0 {
		return nil
	}

	lock, err := acquireLock(filepath.Join(dir, lockFile))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	defer releaseLock(lock)

	path := ManifestPath(dir)
	var buf bytes.Buffer
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		// Terminate a last line left without a newline by a torn write.
		last := make([]byte, 1)
		if f, err := os.Open(path); err == nil {
			_, _ = f.ReadAt(last, info.Size()-1)
			_ = f.Close()
		}
		if last[0] != '\n' {
			buf.WriteByte('\n')
		}
	}
	for _, r := range roots {
		buf.WriteString(r.String())
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return f.Close()
}

// RepairManifest truncates the manifest at the first line that is malformed
// or whose snapshot file is missing or unreadable, and returns how many lines
// were dropped. The surviving lines are a prefix of the old manifest, so every
// root keeps its generation index; nothing is ever added.
func RepairManifest(dir string) (int, error) {
	lock, err := acquireLock(filepath.Join(dir, lockFile))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	defer releaseLock(lock)

	path := ManifestPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	var kept bytes.Buffer
	dropped := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if dropped > 0 {
			dropped++
			continue
		}
		root, err := merkle.ParseHash(line)
		if err != nil {
			dropped++
			continue
		}
		if _, err := ReadSnapshot(dir, root); err != nil {
			dropped++
			continue
		}
		kept.WriteString(root.String())
		kept.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}

	if dropped == 0 && bytes.Equal(kept.Bytes(), data) {
		return 0, nil
	}
	if err := writeFileAtomic(path, kept.Bytes()); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return dropped, nil
}
