package tunnel

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

const downloadBase = "https://github.com/cloudflare/cloudflared/releases/latest/download"

var systemPaths = []string{
	"/usr/local/bin/cloudflared",
	"/opt/homebrew/bin/cloudflared",
}

// LocateBinary finds the cloudflared binary: the app-support bin dir
// first, then known system paths, then PATH, then a fresh download into
// the bin dir.
func LocateBinary(binDir string) (string, error) {
	managed := filepath.Join(binDir, "cloudflared")
	if isExecutable(managed) {
		return managed, nil
	}

	for _, p := range systemPaths {
		if isExecutable(p) {
			return p, nil
		}
	}

	if p, err := exec.LookPath("cloudflared"); err == nil {
		return p, nil
	}

	log.Info().Str("dest", managed).Msg("cloudflared not found, downloading")
	if err := download(managed); err != nil {
		return "", fmt.Errorf("download cloudflared: %w", err)
	}
	return managed, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}

func assetName() (name string, archived bool, err error) {
	arch := runtime.GOARCH
	if arch != "amd64" && arch != "arm64" {
		return "", false, fmt.Errorf("unsupported architecture %s", arch)
	}

	switch runtime.GOOS {
	case "darwin":
		return fmt.Sprintf("cloudflared-darwin-%s.tgz", arch), true, nil
	case "linux":
		return fmt.Sprintf("cloudflared-linux-%s", arch), false, nil
	default:
		return "", false, fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

func download(dest string) error {
	asset, archived, err := assetName()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Get(downloadBase + "/" + asset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release download returned %s", resp.Status)
	}

	if archived {
		return extractTarball(resp.Body, dest)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return nil
}

// extractTarball pulls the cloudflared entry out of a release .tgz.
func extractTarball(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if filepath.Base(hdr.Name) != "cloudflared" || hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
	return fmt.Errorf("cloudflared entry missing from archive")
}
