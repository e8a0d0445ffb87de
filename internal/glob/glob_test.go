package glob_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gur-shatz/go-integrity/internal/glob"
)

var _ = Describe("Glob", func() {
	Describe("ParsePatterns", func() {
		It("treats bang-prefixed includes and the exclude list as negated", func() {
			patterns, err := glob.ParsePatterns([]string{"**/*.txt", "!tmp/**"}, []string{"*.log"})
			Expect(err).NotTo(HaveOccurred())
			Expect(patterns).To(Equal([]glob.Pattern{
				{Raw: "**/*.txt"},
				{Raw: "tmp/**", Negated: true},
				{Raw: "*.log", Negated: true},
			}))
		})

		It("rejects an invalid pattern", func() {
			_, err := glob.ParsePatterns([]string{"[unclosed"}, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Matcher", func() {
		It("includes everything without include patterns", func() {
			m := glob.NewMatcher(nil)
			Expect(m.Match("a.txt")).To(BeTrue())
			Expect(m.Match("deep/nested/b.bin")).To(BeTrue())
		})

		It("selects only included paths", func() {
			m := glob.NewMatcher([]glob.Pattern{{Raw: "**/*.go"}, {Raw: "go.mod"}})
			Expect(m.Match("main.go")).To(BeTrue())
			Expect(m.Match("cmd/app.go")).To(BeTrue())
			Expect(m.Match("go.mod")).To(BeTrue())
			Expect(m.Match("readme.md")).To(BeFalse())
		})

		It("lets exclusions win over inclusions", func() {
			m := glob.NewMatcher([]glob.Pattern{
				{Raw: "**/*.go"},
				{Raw: "**/*.pb.go", Negated: true},
			})
			Expect(m.Match("main.go")).To(BeTrue())
			Expect(m.Match("gen/service.pb.go")).To(BeFalse())
		})

		DescribeTable("prunes excluded directories",
			func(pattern, dir string, pruned bool) {
				m := glob.NewMatcher([]glob.Pattern{{Raw: pattern, Negated: true}})
				Expect(m.PruneDir(dir)).To(Equal(pruned))
			},
			Entry("exact directory name", ".git", ".git", true),
			Entry("directory with doublestar", "node_modules/**", "node_modules", true),
			Entry("nested doublestar", "**/cache/**", "a/b/cache", true),
			Entry("unrelated directory", ".git", "src", false),
			Entry("file pattern does not prune", "*.log", "logs", false),
		)
	})
})
