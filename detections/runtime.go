package detections

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// RuntimeVersion is the onnxruntime release the default library names refer to.
const RuntimeVersion = "1.20.0"

var (
	runtimeMu      sync.Mutex
	runtimeLibPath string
)

// RuntimeLibraryName returns the platform file name of the onnxruntime
// shared library.
func RuntimeLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime." + RuntimeVersion + ".dylib"
	case "windows":
		return "onnxruntime.dll"
	}
	return "libonnxruntime.so." + RuntimeVersion
}

// RuntimeLibraryPath resolves the shared library: an explicit override, then
// ./lib/<name> when present, then the bare name for the system loader.
func RuntimeLibraryPath(override string) string {
	if override != "" {
		return override
	}
	name := RuntimeLibraryName()
	local := filepath.Join("lib", name)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return name
}

// InitRuntime initializes the onnxruntime environment once per process.
// Later calls are no-ops while the environment stays up.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	path := RuntimeLibraryPath(libPath)
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime (%s): %w", path, err)
	}
	runtimeLibPath = path
	return nil
}

// ShutdownRuntime tears the environment down. Safe to call when it was never
// initialized.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	runtimeLibPath = ""
	return ort.DestroyEnvironment()
}

// LoadedRuntimeLibrary returns the library path in use, empty before InitRuntime.
func LoadedRuntimeLibrary() string {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	return runtimeLibPath
}
