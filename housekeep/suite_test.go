package housekeep

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeep(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "housekeep suite")
}
