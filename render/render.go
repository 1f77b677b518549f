// Package render rasterizes a Net's bipartite graph to a PNG by
// shelling out to the graphviz `dot` binary, the direct Go translation
// of ntpnet_lib::net::Net::png from the original implementation this
// module was distilled from.
package render

import (
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"
)

// ErrRenderFailed is returned when the dot subprocess is missing or
// exits non-zero. It is never fatal to a caller that doesn't care about
// the PNG artifact (spec.md §7, "RenderFailed").
var ErrRenderFailed = xerrors.New("render: dot subprocess failed")

// dotter abstracts the net down to what Render needs, so this package
// doesn't import ntpnet and create a cycle (ntpnet/httpdebug both sit
// above render).
type dotter interface {
	AsDot() string
	PseudoHash() uint64
}

// Render writes net's dot source to a temp file and rasterizes it with
// `dot -Tpng` into dir/<pseudo_hash>.png, skipping the subprocess call
// if that file already exists. It returns the PNG's path.
func Render(net dotter, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Errorf("render: creating cache dir %q: %w", dir, err)
	}

	pngPath := filepath.Join(dir, hashName(net.PseudoHash()))
	if _, err := os.Stat(pngPath); err == nil {
		return pngPath, nil
	}

	dotFile, err := os.CreateTemp("", "ntpnet-*.dot")
	if err != nil {
		return "", xerrors.Errorf("render: creating temp dot file: %w", err)
	}
	defer os.Remove(dotFile.Name())

	if _, err := dotFile.WriteString(net.AsDot()); err != nil {
		dotFile.Close()
		return "", xerrors.Errorf("render: writing dot source: %w", err)
	}
	if err := dotFile.Close(); err != nil {
		return "", xerrors.Errorf("render: closing dot file: %w", err)
	}

	cmd := exec.Command("dot", dotFile.Name(), "-Tpng", "-o", pngPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", xerrors.Errorf("running dot (output: %s, err: %v): %w", out, err, ErrRenderFailed)
	}
	return pngPath, nil
}

func hashName(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf) + ".png"
}
