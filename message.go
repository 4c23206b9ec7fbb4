package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Tutortoise/trash-spawn-service/config"
)

const (
	MsgModelUnavailable = "Trash detection model could not be loaded. Local detection will use placeholder results until the service is restarted with a working model."

	MsgMockBackend = "Inference backend is set to mock. Local detection returns placeholder results and does not look at camera frames."

	MsgRemoteOnly = "Remote detection is still available. Switch with PUT /strategy {\"strategy\":\"remote\"}."

	MsgVerifyPassed = "All checks passed. The service is ready to detect trash."

	MsgVerifyFailed = "Some checks failed. Fix the items marked FAIL and run -verify again."
)

// printModelLoadBanner tells the operator, once, why local detection is degraded.
func printModelLoadBanner(w io.Writer, cfg *config.Config, err error) {
	line := strings.Repeat("=", 72)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "MODEL LOAD FAILED")
	fmt.Fprintf(w, "  model:   %s\n", cfg.ModelPath)
	fmt.Fprintf(w, "  runtime: %s (%s)\n", cfg.Runtime, cfg.Backend)
	fmt.Fprintf(w, "  error:   %v\n", err)
	fmt.Fprintln(w)
	fmt.Fprintln(w, MsgModelUnavailable)
	if cfg.RemoteURL != "" {
		fmt.Fprintln(w, MsgRemoteOnly)
	}
	fmt.Fprintln(w, line)
}
