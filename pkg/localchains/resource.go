package localchains

import (
	"archive/tar"
	"bytes"
	"context"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"lukechampine.com/blake3"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

//go:embed resources.json
var builtinResources []byte

// hashesFile records the hashes of extracted binaries that the resource
// manifest does not pin.
const hashesFile = ".hashes.json"

// ResourceInfo says where to download a chain binary for one platform.
type ResourceInfo struct {
	URL string `json:"url"`
	// Binaries are paths inside the archive. The first is the main executable.
	Binaries []string `json:"binaries"`
	// Hashes are hex encoded blake3 hashes of Binaries. When empty, the hashes
	// seen on first download are recorded and checked afterwards.
	Hashes []string `json:"hashes,omitempty"`
}

// Validate checks that the binaries and hashes line up.
func (r ResourceInfo) Validate() error {
	if len(r.Binaries) == 0 {
		return apperrors.ConfigurationError(nil, fmt.Sprintf("resource %s lists no binaries", r.URL))
	}
	if len(r.Hashes) > 0 && len(r.Hashes) != len(r.Binaries) {
		return apperrors.ConfigurationError(nil,
			fmt.Sprintf("resource %s has %d binaries but %d hashes", r.URL, len(r.Binaries), len(r.Hashes)))
	}
	return nil
}

// ResourceManifest maps resource name, OS and architecture to a download.
type ResourceManifest map[string]map[string]map[string]ResourceInfo

// LoadResources returns the built-in manifest, with entries overridden by
// resources.json in cacheDir when present.
func LoadResources(cacheDir string) (ResourceManifest, error) {
	var m ResourceManifest
	if err := json.Unmarshal(builtinResources, &m); err != nil {
		return nil, fmt.Errorf("malformed built-in resource manifest: %w", err)
	}
	overridePath := filepath.Join(cacheDir, "resources.json")
	if _, err := os.Stat(overridePath); err != nil {
		return m, nil
	}
	var override ResourceManifest
	if err := fsutil.ReadJSON(overridePath, &override); err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid resource manifest override")
	}
	for name, oses := range override {
		if m[name] == nil {
			m[name] = map[string]map[string]ResourceInfo{}
		}
		for goos, arches := range oses {
			if m[name][goos] == nil {
				m[name][goos] = map[string]ResourceInfo{}
			}
			for arch, info := range arches {
				m[name][goos][arch] = info
			}
		}
	}
	return m, nil
}

// ForCurrentMachine returns the download of name for this OS and architecture.
func (m ResourceManifest) ForCurrentMachine(name, cacheDir string) (*Downloadable, error) {
	return m.For(name, runtime.GOOS, runtime.GOARCH, cacheDir)
}

// For returns the download of name for goos and arch.
func (m ResourceManifest) For(name, goos, arch, cacheDir string) (*Downloadable, error) {
	product, ok := m[name]
	if !ok {
		return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("unknown resource %s", name))
	}
	info, ok := product[goos][arch]
	if !ok {
		var supported []string
		for o, arches := range product {
			for a := range arches {
				supported = append(supported, o+"-"+a)
			}
		}
		sort.Strings(supported)
		return nil, apperrors.ExternalToolError(nil,
			fmt.Sprintf("%s is not available for %s-%s; supported platforms: %s", name, goos, arch, strings.Join(supported, ", ")))
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	d := &Downloadable{
		URL:            info.URL,
		DestinationDir: filepath.Join(cacheDir, fmt.Sprintf("%s-%s-%s", name, goos, arch)),
	}
	for i, b := range info.Binaries {
		bin := Binary{Path: b}
		if len(info.Hashes) > 0 {
			bin.Hash = info.Hashes[i]
		}
		d.Binaries = append(d.Binaries, bin)
	}
	return d, nil
}

// Binary is one executable extracted from a download.
type Binary struct {
	Path string
	Hash string
}

// Downloadable is an archive holding chain binaries.
type Downloadable struct {
	URL            string
	DestinationDir string
	Binaries       []Binary
}

// Name is the file name of the main executable.
func (d *Downloadable) Name() string { return filepath.Base(d.Binaries[0].Path) }

// Destination is the path of the main executable.
func (d *Downloadable) Destination() string {
	return filepath.Join(d.DestinationDir, d.Binaries[0].Path)
}

// BinaryPath returns the extracted path of the binary with the given file name.
func (d *Downloadable) BinaryPath(name string) (string, bool) {
	for _, b := range d.Binaries {
		if filepath.Base(b.Path) == name {
			return filepath.Join(d.DestinationDir, b.Path), true
		}
	}
	return "", false
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (d *Downloadable) recordedHashes() map[string]string {
	var out map[string]string
	if err := fsutil.ReadJSON(filepath.Join(d.DestinationDir, hashesFile), &out); err != nil {
		return nil
	}
	return out
}

// Exists checks that every binary is extracted and has the expected hash.
func (d *Downloadable) Exists() error {
	recorded := d.recordedHashes()
	for _, b := range d.Binaries {
		dest := filepath.Join(d.DestinationDir, b.Path)
		actual, err := hashFile(dest)
		if err != nil {
			return apperrors.IOError(err, fmt.Sprintf("missing downloaded file %s", dest))
		}
		expected := b.Hash
		if expected == "" {
			expected = recorded[b.Path]
		}
		if expected == "" {
			return apperrors.ExternalToolError(nil, fmt.Sprintf("no recorded hash for %s", dest))
		}
		if !strings.EqualFold(actual, expected) {
			return apperrors.ExternalToolError(nil,
				fmt.Sprintf("incorrect hash for %s: expected %s, got %s", dest, expected, actual))
		}
	}
	return nil
}

// Download fetches the archive. progress, when set, receives the number of
// bytes read so far and the content length (-1 when unknown).
func (d *Downloadable) Download(ctx context.Context, client *http.Client, progress func(read, total int64)) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, apperrors.ExternalToolError(err, fmt.Sprintf("invalid download url %s", d.URL))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.ExternalToolError(err, fmt.Sprintf("failed to download %s", d.URL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExternalToolError(nil, fmt.Sprintf("failed to download %s: %s", d.URL, resp.Status))
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	for {
		n, err := resp.Body.Read(chunk)
		buf.Write(chunk[:n])
		if progress != nil && n > 0 {
			progress(int64(buf.Len()), resp.ContentLength)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.ExternalToolError(err, fmt.Sprintf("failed to download %s", d.URL))
		}
	}
	return buf.Bytes(), nil
}

// Extract writes the binaries in data to DestinationDir. A .tar.gz URL is
// unpacked; anything else is the main executable itself. Binaries without a
// pinned hash get their hash recorded.
func (d *Downloadable) Extract(data []byte, extracted func(path string)) error {
	if err := os.MkdirAll(d.DestinationDir, 0o755); err != nil {
		return apperrors.IOError(err, "failed to create download directory")
	}
	var found int
	if strings.HasSuffix(d.URL, ".tar.gz") || strings.HasSuffix(d.URL, ".tgz") {
		n, err := d.extractTarGz(data, extracted)
		if err != nil {
			return apperrors.IOError(err, fmt.Sprintf("failed to extract %s", d.URL))
		}
		found = n
	} else {
		dest := d.Destination()
		if err := fsutil.WriteFileAtomic(dest, data, 0o755); err != nil {
			return apperrors.IOError(err, fmt.Sprintf("failed to save %s", dest))
		}
		if extracted != nil {
			extracted(dest)
		}
		found = 1
	}
	if found != len(d.Binaries) {
		names := make([]string, len(d.Binaries))
		for i, b := range d.Binaries {
			names[i] = b.Path
		}
		return apperrors.ExternalToolError(nil,
			fmt.Sprintf("found only %d binaries out of [%s] in downloaded archive", found, strings.Join(names, ", ")))
	}
	return d.recordHashes()
}

func (d *Downloadable) extractTarGz(data []byte, extracted func(path string)) (int, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	wanted := map[string]bool{}
	for _, b := range d.Binaries {
		wanted[filepath.Clean(b.Path)] = true
	}
	tr := tar.NewReader(gz)
	found := 0
	for found < len(wanted) {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return found, err
		}
		name := filepath.Clean(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || !wanted[name] {
			continue
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			return found, err
		}
		dest := filepath.Join(d.DestinationDir, name)
		if err := fsutil.WriteFileAtomic(dest, contents, 0o755); err != nil {
			return found, err
		}
		if extracted != nil {
			extracted(dest)
		}
		found++
	}
	return found, nil
}

func (d *Downloadable) recordHashes() error {
	recorded := map[string]string{}
	for _, b := range d.Binaries {
		h, err := hashFile(filepath.Join(d.DestinationDir, b.Path))
		if err != nil {
			return apperrors.IOError(err, "failed to hash downloaded binary")
		}
		if b.Hash == "" {
			recorded[b.Path] = h
		}
	}
	if len(recorded) == 0 {
		return nil
	}
	return fsutil.WriteJSONAtomic(filepath.Join(d.DestinationDir, hashesFile), recorded)
}
