package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRPC         = "ipc.rpc"
	SubjectEventPrefix = "ipc.events"
)

// subjectToken replaces characters that have meaning in a subject.
var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// BuildEventSubject builds the granular subject for an event, e.g.
// "ipc.events.ipc_error.user_profile" for an error in endpoint "user.profile".
func BuildEventSubject(prefix, name, endpoint string) string {
	if endpoint == "" {
		return fmt.Sprintf("%s.%s", prefix, name)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, name, subjectToken.Replace(endpoint))
}
