package memory

import (
	"testing"

	"github.com/grantry/grantry"
	"github.com/grantry/grantry/testsuite"
)

func TestMemoryWithTestSuite(t *testing.T) {
	storage := NewMemoryStorage()
	defer storage.Close()
	testsuite.RunTestAll(t, map[string]testsuite.Config{
		"memory": {Storage: storage},
	})
}

func BenchmarkMemory(b *testing.B) {
	storage := NewMemoryStorage()
	defer storage.Close()
	testsuite.RunBenchmarkAll(b, map[string]grantry.Storage{
		"memory": storage,
	})
}
