// Package version identifies the running mailthrottle build and process.
// Build fields are stamped with -ldflags; the process fields are generated
// once at startup and tag logs, traces and worker names.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

// Build metadata, set with
//
//	-ldflags "-X mailthrottle/internal/version.Version=v1.2.0 -X ..."
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info describes this build and this process. Two processes running the
// same build share the build fields but never the InstanceID.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var lookupHostname = os.Hostname

var current = sync.OnceValue(func() Info {
	return Info{
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		InstanceID: uuid.NewString(),
		Hostname:   hostname(),
	}
})

// GetInfo returns the info of the running process. The instance ID is
// generated on the first call.
func GetInfo() Info {
	return current()
}

func hostname() string {
	name, err := lookupHostname()
	if err != nil || name == "" {
		return unknown
	}
	return name
}

func (i Info) String() string {
	return fmt.Sprintf("mailthrottle version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// ShortID is the first eight characters of the instance ID.
func (i Info) ShortID() string {
	if len(i.InstanceID) > 8 {
		return i.InstanceID[:8]
	}
	return i.InstanceID
}

// WorkerName identifies one worker goroutine of this process in logs, as
// host/short-id#index.
func (i Info) WorkerName(index int) string {
	return fmt.Sprintf("%s/%s#%d", i.Hostname, i.ShortID(), index)
}
