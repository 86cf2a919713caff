// Command mkimage assembles an application flash image from a YAML
// manifest. Each entry names a program binary, taken from a local path
// (glob patterns supported) or fetched over HTTP, and is wrapped in a
// header, name record, and optional integrity footer. Images are laid out
// back to back, the way the boot-time flash walk expects them.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/kestrel-os/kestrel/internal/loader"
)

// Manifest is the top-level YAML document.
type Manifest struct {
	Output string     `yaml:"output"`
	Apps   []AppEntry `yaml:"apps"`
}

// AppEntry describes one application image.
type AppEntry struct {
	Name string `yaml:"name"`
	// Text is the program binary: a local path, a doublestar glob matching
	// exactly one file, or an http(s) URL.
	Text string `yaml:"text"`
	// Data is the optional relocation-data blob, resolved the same way.
	Data       string `yaml:"data"`
	BSSSize    uint32 `yaml:"bss_size"`
	MinRAMSize uint32 `yaml:"min_ram_size"`
	Sticky     bool   `yaml:"sticky"`
	Disabled   bool   `yaml:"disabled"`
	// Digest appends a BLAKE2b-256 credential footer. Defaults to true.
	Digest *bool `yaml:"digest"`
}

func main() {
	manifestPath := flag.String("manifest", "image.yaml", "image manifest")
	outPath := flag.String("out", "", "output file (overrides manifest output)")
	flag.Parse()

	if err := run(*manifestPath, *outPath); err != nil {
		fmt.Fprintln(os.Stderr, "mkimage:", err)
		os.Exit(1)
	}
}

func run(manifestPath, outPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if outPath == "" {
		outPath = m.Output
	}
	if outPath == "" {
		return fmt.Errorf("no output file: set output in the manifest or pass -out")
	}
	if len(m.Apps) == 0 {
		return fmt.Errorf("manifest lists no apps")
	}

	fetcher := retryablehttp.NewClient()
	fetcher.RetryMax = 3
	fetcher.Logger = nil

	var image []byte
	for _, app := range m.Apps {
		if app.Name == "" {
			return fmt.Errorf("app entry without a name")
		}
		text, err := resolve(app.Text, fetcher)
		if err != nil {
			return fmt.Errorf("app %s text: %w", app.Name, err)
		}
		var data []byte
		if app.Data != "" {
			if data, err = resolve(app.Data, fetcher); err != nil {
				return fmt.Errorf("app %s data: %w", app.Name, err)
			}
		}

		digest := true
		if app.Digest != nil {
			digest = *app.Digest
		}
		img, err := loader.EncodeImage(loader.ImageParams{
			Name:       app.Name,
			Text:       text,
			Data:       data,
			BSSSize:    app.BSSSize,
			MinRAMSize: app.MinRAMSize,
			Sticky:     app.Sticky,
			Disabled:   app.Disabled,
			WithDigest: digest,
		})
		if err != nil {
			return fmt.Errorf("app %s: %w", app.Name, err)
		}
		image = append(image, img...)
		fmt.Printf("  %-16s %6d bytes\n", app.Name, len(img))
	}

	if err := os.WriteFile(outPath, image, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s: %d apps, %d bytes\n", outPath, len(m.Apps), len(image))
	return nil
}

// resolve fetches a source: http(s) URLs over the wire with retries,
// anything else as a glob that must match exactly one local file.
func resolve(src string, fetcher *retryablehttp.Client) ([]byte, error) {
	if src == "" {
		return nil, fmt.Errorf("empty source")
	}
	if isURL(src) {
		resp, err := fetcher.Get(src)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, fmt.Errorf("GET %s: status %d", src, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	matches, err := doublestar.FilepathGlob(src)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", src, err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no file matches %q", src)
	case 1:
		return os.ReadFile(matches[0])
	default:
		return nil, fmt.Errorf("pattern %q matches %d files, want one", src, len(matches))
	}
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
