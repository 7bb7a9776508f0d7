package forest

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestForestInternals(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Forest Internals Suite")
}
