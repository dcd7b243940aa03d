package housekeep

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("housekeeper", func() {
	BeforeEach(func() {
		initCleaner()
	})

	It("fires a freshly registered callback right away", func() {
		fired := false
		Reg("probe", func() time.Duration {
			fired = true
			return time.Second
		})

		Eventually(func() bool { return fired }, 100*time.Millisecond).Should(BeTrue())
	})

	It("honors an initial delay before the first run", func() {
		fired := false
		Reg("probe", func() time.Duration {
			fired = true
			return time.Second
		}, 300*time.Millisecond)

		Consistently(func() bool { return fired }, 200*time.Millisecond).Should(BeFalse())
		Eventually(func() bool { return fired }, 300*time.Millisecond).Should(BeTrue())
	})

	It("re-schedules using the duration the callback returns", func() {
		var runs int
		Reg("backoff", func() time.Duration {
			runs++
			if runs == 1 {
				return 50 * time.Millisecond
			}
			return time.Minute
		})

		Eventually(func() int { return runs }, 100*time.Millisecond).Should(Equal(1))
		Eventually(func() int { return runs }, 200*time.Millisecond).Should(Equal(2))
		Consistently(func() int { return runs }, 150*time.Millisecond).Should(Equal(2))
	})

	It("stops calling a callback once unregistered", func() {
		var runs int
		Reg("volatile", func() time.Duration {
			runs++
			return 30 * time.Millisecond
		})
		Eventually(func() int { return runs }, 60*time.Millisecond).Should(BeNumerically(">=", 1))
		Unreg("volatile")
		snapshot := runs
		Consistently(func() int { return runs }, 150*time.Millisecond).Should(Equal(snapshot))
	})

	DescribeTable("keeps independent callbacks on independent schedules",
		func(fastDelay, slowDelay, wait time.Duration, wantFast, wantSlowAtLeast int) {
			var fast, slow int
			Reg("fast", func() time.Duration {
				fast++
				return fastDelay
			})
			Reg("slow", func() time.Duration {
				slow++
				return slowDelay
			})

			time.Sleep(wait)
			Expect(fast).To(BeNumerically(">=", wantFast))
			Expect(slow).To(BeNumerically(">=", wantSlowAtLeast))
		},
		Entry("fast ticks several times while slow barely moves", 20*time.Millisecond, 500*time.Millisecond, 120*time.Millisecond, 3, 1),
	)
})
