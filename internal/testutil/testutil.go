// Package testutil provides transcript fixtures and helpers shared by
// zapbuild tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DemoTranscript is a complete artifact with one file and one shell action.
const DemoTranscript = `Sure, here is your site.

<zapArtifeact id="p1" title="Demo">
<zapAction type="file" filePath="src/index.html">
<html></html>
</zapAction>
<zapAction type="shell">
npm install
</zapAction>
</zapArtifeact>

Run it and enjoy.`

// ViteTranscript builds a small Vite project and starts its dev server.
// Payloads are indented the way chat models format nested markup.
const ViteTranscript = `<zapArtifeact id="vite-app" title="Vite Starter">
  <zapAction type="file" filePath="package.json">
    {
      "name": "vite-app",
      "scripts": { "dev": "vite" }
    }
  </zapAction>
  <zapAction type="file" filePath="/index.html">
    <!doctype html>
    <html>
      <body><div id="app"></div><script type="module" src="/src/main.ts"></script></body>
    </html>
  </zapAction>
  <zapAction type="file" filePath="src/main.ts">
    document.querySelector('#app')!.textContent = 'hi'
  </zapAction>
  <zapAction type="shell">
    npm install
  </zapAction>
  <zapAction type="shell">
    npm run dev
  </zapAction>
</zapArtifeact>`

// TwoFilesThenShell has two file actions followed by a shell command that
// reads both.
const TwoFilesThenShell = `<zapArtifeact id="t" title="Ordering">
<zapAction type="file" filePath="a.txt">
alpha
</zapAction>
<zapAction type="file" filePath="b.txt">
beta
</zapAction>
<zapAction type="shell">
cat a.txt b.txt
</zapAction>
</zapArtifeact>`

// Prefixes returns successive prefixes of s growing by size bytes, ending
// with s itself.
func Prefixes(s string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for n := size; n < len(s); n += size {
		out = append(out, s[:n])
	}
	return append(out, s)
}

// Chunks splits s into consecutive pieces of at most size bytes.
func Chunks(s string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// WriteTranscript writes content to a file in a fresh temporary directory
// and returns its path.
func WriteTranscript(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write transcript: %v", err)
	}
	return path
}

// ReadFile returns the contents of path, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}
