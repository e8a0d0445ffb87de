package log_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gur-shatz/go-integrity/internal/color"
	"github.com/gur-shatz/go-integrity/internal/log"
	"github.com/gur-shatz/go-integrity/internal/manifest"
	"github.com/gur-shatz/go-integrity/internal/verify"
)

var _ = Describe("Logger", func() {
	var out, errOut *bytes.Buffer

	BeforeEach(func() {
		color.Set(false)
		out = &bytes.Buffer{}
		errOut = &bytes.Buffer{}
	})

	It("writes errors to the error stream with the prefix", func() {
		l := log.NewWithWriters("[test]", false, out, errOut)
		l.Error("bad %s", "thing")
		Expect(errOut.String()).To(Equal("[test] Error: bad thing\n"))
		Expect(out.String()).To(BeEmpty())
	})

	It("hides verbose output unless enabled", func() {
		quiet := log.NewWithWriters("[test]", false, out, errOut)
		quiet.Verbose("hidden")
		Expect(out.String()).To(BeEmpty())

		loud := log.NewWithWriters("[test]", true, out, errOut)
		loud.Verbose("shown")
		Expect(out.String()).To(Equal("[test] shown\n"))
	})

	Describe("Result", func() {
		It("prints failures and hides intact lines by default", func() {
			l := log.NewWithWriters("[test]", false, out, errOut)
			l.Result(verify.Result{Path: "a.txt", Status: verify.Intact}, false)
			l.Result(verify.Result{Path: "b.txt", Status: verify.Changed}, false)
			l.Result(verify.Result{Path: "c.txt", Status: verify.Missing}, false)
			Expect(out.String()).To(Equal("File changed: b.txt\nFile missing: c.txt\n"))
		})

		It("prints intact lines when asked", func() {
			l := log.NewWithWriters("[test]", false, out, errOut)
			l.Result(verify.Result{Path: "a.txt", Status: verify.Intact}, true)
			Expect(out.String()).To(Equal("File intact: a.txt\n"))
		})

		It("appends the read error for unreadable files", func() {
			l := log.NewWithWriters("[test]", false, out, errOut)
			l.Result(verify.Result{Path: "d.txt", Status: verify.Errored, Err: errors.New("permission denied")}, false)
			Expect(out.String()).To(Equal("File unreadable: d.txt (permission denied)\n"))
		})
	})

	Describe("ListsIntact", func() {
		It("lists intact lines when output is not a terminal", func() {
			l := log.NewWithWriters("[test]", false, out, errOut)
			Expect(l.ListsIntact()).To(BeTrue())

			f, err := os.Create(filepath.Join(GinkgoT().TempDir(), "report.txt"))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(f.Close)
			Expect(log.NewWithWriters("[test]", false, f, errOut).ListsIntact()).To(BeTrue())
		})

		It("lists intact lines in verbose mode", func() {
			Expect(log.NewWithWriters("[test]", true, out, errOut).ListsIntact()).To(BeTrue())
		})

		It("prints one line per entry when piped", func() {
			l := log.NewWithWriters("[test]", false, out, errOut)
			all := l.ListsIntact()
			l.Result(verify.Result{Path: "a.txt", Status: verify.Intact}, all)
			l.Result(verify.Result{Path: "b.txt", Status: verify.Changed}, all)
			Expect(out.String()).To(Equal("File intact: a.txt\nFile changed: b.txt\n"))
		})
	})

	It("prints transitions", func() {
		l := log.NewWithWriters("[test]", false, out, errOut)
		l.Transition(verify.Intact, verify.Result{Path: "a.txt", Status: verify.Changed})
		Expect(out.String()).To(Equal("[test] a.txt: intact -> changed\n"))
	})

	It("prints manifest differences", func() {
		l := log.NewWithWriters("[test]", false, out, errOut)
		l.Change(manifest.ChangeSet{Added: []string{"n.txt"}, Modified: []string{"m.txt"}, Removed: []string{"r.txt"}})
		Expect(out.String()).To(Equal("[test] Manifest differences:\n  modified: m.txt\n  added:    n.txt\n  removed:  r.txt\n"))
	})
})
