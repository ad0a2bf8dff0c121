package llmclient

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The shared HTTP transport keeps idle connections alive briefly.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}
