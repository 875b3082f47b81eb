package testutil

import (
	"testing"

	"datafs-go/internal/datafs"
)

// TestUser is the identity of sessions created by NewTestSession.
var TestUser = datafs.User{Username: "jdoe", Contact: "jdoe@example.com"}

// NewTestSession creates a session with an in-memory SQLite manager, a
// temporary staging area and a fixed clock. opts are applied afterwards,
// so they can replace any of these or attach authorities.
func NewTestSession(t *testing.T, opts ...datafs.Option) *datafs.Session {
	t.Helper()

	base := []datafs.Option{
		datafs.WithManager(NewTestManager(t)),
		datafs.WithStaging(NewTestStagingArea(t)),
		datafs.WithClock(FixedClock()),
	}
	s, err := datafs.NewSession(TestUser, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return s
}
