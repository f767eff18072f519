package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

type AboutResponse struct {
	Service   string `json:"service"`
	DeviceID  string `json:"device_id,omitempty"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	GOARCH    string `json:"goarch"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

var readBuildInfo = debug.ReadBuildInfo

func AboutHandler(deviceID string) http.Handler {
	return getOnly(func(w http.ResponseWriter, r *http.Request) {
		resp := AboutResponse{
			Service:   "polaris-ng",
			DeviceID:  deviceID,
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
			GOARCH:    runtime.GOARCH,
		}
		if bi, ok := readBuildInfo(); ok && bi != nil {
			resp.Version = bi.Main.Version
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					resp.Commit = s.Value
				case "vcs.modified":
					resp.Dirty = s.Value == "true"
				}
			}
		}
		writeJSON(w, resp)
	})
}
