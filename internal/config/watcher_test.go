package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const watcherValidConfig = `
kubernetes:
  namespace: "tires"
scheduler:
  tick_period: "30s"
actions:
  max_concurrent: 5
`

var _ = Describe("WatchFile", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-watch-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(configFile, []byte(watcherValidConfig), 0644)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("publishes a reloaded Config when the file is rewritten", func() {
		w, err := WatchFile(configFile)
		Expect(err).NotTo(HaveOccurred())
		defer w.Close()

		updated := watcherValidConfig + "\nlogging:\n  level: \"debug\"\n"
		Expect(os.WriteFile(configFile, []byte(updated), 0644)).To(Succeed())

		Eventually(w.Changes(), 2*time.Second).Should(Receive(WithTransform(
			func(c *Config) string { return c.Logging.Level },
			Equal("debug"),
		)))
	})

	It("surfaces an error without dropping the watch when the rewrite is invalid", func() {
		w, err := WatchFile(configFile)
		Expect(err).NotTo(HaveOccurred())
		defer w.Close()

		Expect(os.WriteFile(configFile, []byte("scheduler:\n  tick_period: [\n"), 0644)).To(Succeed())
		Eventually(w.Errors(), 2*time.Second).Should(Receive())
	})
})
