// CLAUDE:SUMMARY Integrity API: binary SHA-256 hash, uptime, runtime and history sequence health
package api

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"
)

var (
	binaryHash     string
	binaryHashOnce sync.Once
	startTime      = time.Now()
)

// computeBinaryHash calculates SHA-256 of the running binary (once).
func computeBinaryHash() string {
	binaryHashOnce.Do(func() {
		exe, err := os.Executable()
		if err != nil {
			binaryHash = "unknown"
			return
		}
		f, err := os.Open(exe)
		if err != nil {
			binaryHash = "unknown"
			return
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			binaryHash = "unknown"
			return
		}
		binaryHash = fmt.Sprintf("sha256:%x", h.Sum(nil))
	})
	return binaryHash
}

// BinaryHash returns the cached binary hash (call from main for startup log).
func BinaryHash() string {
	return computeBinaryHash()
}

func (a *API) RegisterIntegrityRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/integrity", a.handleIntegrity)
}

func (a *API) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	status := a.svc.VerifyIntegrity()

	resp := map[string]interface{}{
		"binary_hash":     computeBinaryHash(),
		"go_version":      runtime.Version(),
		"uptime_seconds":  int(time.Since(startTime).Seconds()),
		"history_entries": a.svc.HistoryCount(),
		"last_sequence":   a.svc.LastSequence(),
		"sequence_valid":  status.IsValid,
		"sequence_range":  status.ExpectedRange,
	}
	if a.db != nil {
		if sum, err := a.db.SummarizeEvictions(r.Context()); err == nil {
			resp["evicted_total"] = sum.TotalRemoved
		}
	}
	jsonResp(w, http.StatusOK, resp)
}
