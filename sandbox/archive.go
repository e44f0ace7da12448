package sandbox

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/isdmx/codeviz/registry"
)

// ErrArtifactsTooLarge is returned when the output directory exceeds the limit
var ErrArtifactsTooLarge = errors.New("artifacts size exceeds limit")

type archiveEntry struct {
	name string
	mode int64
	dir  bool
	data []byte
}

// BuildWorkspace returns a tar stream that, extracted at "/", lays out the
// sandbox working directory: the source file, the optional input document
// and an empty world-writable output directory.
func BuildWorkspace(desc registry.LanguageDescriptor, code string, inputData map[string]any) ([]byte, error) {
	root := strings.TrimPrefix(WorkDir, "/")
	entries := []archiveEntry{
		{name: root + "/", mode: DirPermission, dir: true},
		{name: strings.TrimPrefix(OutputDir, "/") + "/", mode: OutputDirPermission, dir: true},
		{name: path.Join(root, desc.SourceFile()), mode: FilePermission, data: []byte(desc.ApplyHooks(code))},
	}

	if inputData != nil {
		doc, err := json.MarshalIndent(inputData, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize input data: %w", err)
		}
		entries = append(entries, archiveEntry{name: path.Join(root, InputFile), mode: FilePermission, data: doc})
	}

	return writeArchive(entries)
}

func writeArchive(entries []archiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	tarWriter := tar.NewWriter(&buf)
	now := time.Now()

	for _, e := range entries {
		header := &tar.Header{
			Name:    e.name,
			Mode:    e.mode,
			ModTime: now,
		}
		if e.dir {
			header.Typeflag = tar.TypeDir
		} else {
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(e.data))
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %s: %w", e.name, err)
		}
		if !e.dir {
			if _, err := tarWriter.Write(e.data); err != nil {
				return nil, fmt.Errorf("failed to write tar content for %s: %w", e.name, err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractArtifacts reads the regular files of a tar stream copied out of a
// container. The first path component (the copied directory itself) is
// dropped. Entries that escape the directory are rejected, and reading stops
// with ErrArtifactsTooLarge once more than maxBytes of file content was seen.
func ExtractArtifacts(r io.Reader, maxBytes int64) ([]Artifact, error) {
	tarReader := tar.NewReader(r)
	var (
		artifacts []Artifact
		total     int64
	)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		name, err := artifactName(header.Name)
		if err != nil {
			return nil, err
		}

		total += header.Size
		if total > maxBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrArtifactsTooLarge, maxBytes)
		}

		data := make([]byte, header.Size)
		if _, err := io.ReadFull(tarReader, data); err != nil {
			return nil, fmt.Errorf("failed to read file content: %w", err)
		}
		artifacts = append(artifacts, Artifact{Name: name, Data: data})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func artifactName(entry string) (string, error) {
	if path.IsAbs(entry) {
		return "", fmt.Errorf("absolute path not allowed in tar: %s", entry)
	}

	clean := path.Clean(entry)
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", fmt.Errorf("unsafe relative path in tar: %s", entry)
		}
	}

	if i := strings.IndexByte(clean, '/'); i >= 0 {
		return clean[i+1:], nil
	}
	return clean, nil
}
