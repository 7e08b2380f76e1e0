// Package capture records relay and sink exchanges to disk so they can be
// replayed as test fixtures.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	sessionID  = time.Now().Format("20060102-150405")
	captureSeq uint64
)

// EnvCaptureDir turns capture on when set and names the output directory.
const EnvCaptureDir = "LEADCHAT_CAPTURE_DIR"

var captureEnabled atomic.Bool

// Enabled reports whether exchanges are being recorded.
func Enabled() bool {
	return captureEnabled.Load() || os.Getenv(EnvCaptureDir) != ""
}

// Enable turns on capture for the running process, writing under the
// default directory unless EnvCaptureDir is set.
func Enable() {
	captureEnabled.Store(true)
}

// Disable turns off explicit capture. Capture stays on while EnvCaptureDir
// is set.
func Disable() {
	captureEnabled.Store(false)
}

func captureDir(namespace string) string {
	if dir := os.Getenv(EnvCaptureDir); dir != "" {
		if namespace != "" {
			return filepath.Join(dir, namespace)
		}
		return dir
	}
	if namespace == "" {
		namespace = "default"
	}
	return filepath.Join("captures", namespace)
}

func writeFile(namespace, category, ext string, data []byte) string {
	seq := atomic.AddUint64(&captureSeq, 1)
	sessionDir := filepath.Join(captureDir(namespace), sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", sessionDir).Msg("capture: failed to create directory")
		return ""
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return ""
	}

	log.Debug().Str("path", path).Msg("capture: wrote fixture")
	return path
}

// WriteJSON stores payload as indented JSON under captures/<namespace>/ and
// returns the written path, or "" when capture is off or the write failed.
func WriteJSON(namespace, category string, payload interface{}) string {
	if !Enabled() {
		return ""
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("category", category).Msg("capture: failed to marshal payload")
		return ""
	}
	return writeFile(namespace, category, "json", data)
}
