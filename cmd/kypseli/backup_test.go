package main

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"simple file", "kypseli.db", "kypseli.db", true},
		{"nested path", "nats/jetstream/stream.dat", "nats/jetstream/stream.dat", true},
		{"directory with slash", "nats/", "nats", true},
		{"leading dot-slash", "./kypseli.db", "kypseli.db", true},
		{"redundant segments", "nats/./jetstream", "nats/jetstream", true},
		{"parent escape", "../evil.txt", "", false},
		{"nested parent escape", "nats/../../evil.txt", "", false},
		{"absolute path", "/etc/passwd", "", false},
		{"bare dotdot", "..", "", false},
		{"empty string", "", "", false},
		{"dot only", ".", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryPath(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("entryPath(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("entryPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func writeTestTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"kypseli.db":                  "sqlite bytes",
		"nats/jetstream/stream.dat":   "stream state",
		"nats/jetstream/consumer.dat": "consumer state",
	}
	writeTestTree(t, src, files)
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	count, err := archiveDir(src, &buf)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if count != len(files) {
		t.Errorf("archived %d files, want %d", count, len(files))
	}

	dst := t.TempDir()
	restored, err := extractArchive(&buf, dst)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if restored != len(files) {
		t.Errorf("restored %d files, want %d", restored, len(files))
	}

	for rel, want := range files {
		data, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", rel, data, want)
		}
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not restored: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := "owned"
	if err := tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	_, err := extractArchive(&buf, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("err = %v, want a traversal rejection", err)
	}
}

func TestRestoreRefusesOccupiedDataDir(t *testing.T) {
	src := t.TempDir()
	writeTestTree(t, src, map[string]string{"kypseli.db": "x"})

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := archiveDir(src, zw); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	f.Close()

	dst := t.TempDir()
	writeTestTree(t, dst, map[string]string{"existing.db": "keep me"})

	err = runRestore([]string{"-f", archive, "-data", dst})
	if err == nil || !strings.Contains(err.Error(), "-overwrite") {
		t.Fatalf("err = %v, want an overwrite refusal", err)
	}

	if err := runRestore([]string{"-f", archive, "-data", dst, "-overwrite"}); err != nil {
		t.Fatalf("restore with -overwrite: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "kypseli.db")); err != nil {
		t.Errorf("restored file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "existing.db")); err != nil {
		t.Errorf("existing file clobbered: %v", err)
	}
}
