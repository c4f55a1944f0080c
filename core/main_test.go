package core

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	RunIsolatedChild()
	os.Exit(m.Run())
}
