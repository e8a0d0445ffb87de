package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gur-shatz/go-integrity/internal/log"
	"github.com/gur-shatz/go-integrity/pkg/api"
	"github.com/gur-shatz/go-integrity/pkg/config"
)

var _ = Describe("API", func() {
	var (
		tmpDir  string
		dataDir string
		cfg     config.Config
		server  *httptest.Server
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dataDir = filepath.Join(tmpDir, "data")
		Expect(os.MkdirAll(dataDir, 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "a.txt"), []byte("hello"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "b.txt"), []byte("world"), 0644)).To(Succeed())

		cfg = config.Default()
		cfg.Root = dataDir
		cfg.Manifest = filepath.Join(tmpDir, "integrity.sum")
		Expect(cfg.Validate()).To(Succeed())

		logger := log.NewWithWriters("[test]", false, io.Discard, io.Discard)
		srv := api.New(&cfg, logger)
		server = httptest.NewServer(srv.Routes())
		DeferCleanup(server.Close)
	})

	call := func(method, path string) (int, map[string]any) {
		req, err := http.NewRequest(method, server.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp.StatusCode, body
	}

	It("reports health", func() {
		code, body := call(http.MethodGet, "/health")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("status", "ok"))
	})

	It("lists algorithms", func() {
		code, body := call(http.MethodGet, "/algorithms")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("default", "sha256"))
		Expect(body["algorithms"]).To(ContainElements("sha256", "blake3", "md5"))
	})

	It("returns 404 before a manifest exists", func() {
		code, body := call(http.MethodPost, "/verify")
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(body).To(HaveKey("error"))

		code, _ = call(http.MethodGet, "/report")
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("generates then verifies", func() {
		code, body := call(http.MethodPost, "/generate")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("files", BeNumerically("==", 2)))
		Expect(body).To(HaveKeyWithValue("algorithm", "sha256"))

		code, body = call(http.MethodGet, "/manifest")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["entries"]).To(HaveLen(2))

		code, body = call(http.MethodPost, "/verify")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("ok", true))

		Expect(os.WriteFile(filepath.Join(dataDir, "a.txt"), []byte("tampered"), 0644)).To(Succeed())
		code, body = call(http.MethodPost, "/verify")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("ok", false))
		Expect(body["counts"]).To(HaveKeyWithValue("changed", BeNumerically("==", 1)))

		code, body = call(http.MethodGet, "/report")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("ok", false))
	})

	It("honors the algorithm override", func() {
		code, _ := call(http.MethodPost, "/generate?algorithm=blake3")
		Expect(code).To(Equal(http.StatusOK))

		code, body := call(http.MethodPost, "/verify?algorithm=blake3")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("ok", true))

		code, body = call(http.MethodPost, "/verify")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("ok", false))
	})

	It("rejects unknown algorithms", func() {
		code, body := call(http.MethodPost, "/generate?algorithm=sha0")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(body["error"]).To(ContainSubstring("sha0"))
	})

	It("rejects a malformed manifest", func() {
		Expect(os.WriteFile(cfg.Manifest, []byte("no separator here\n"), 0644)).To(Succeed())
		code, _ := call(http.MethodPost, "/verify")
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	Describe("Handler", func() {
		var full *httptest.Server

		BeforeEach(func() {
			srv := api.New(&cfg, log.NewWithWriters("[test]", false, io.Discard, io.Discard))
			full = httptest.NewServer(srv.Handler())
			DeferCleanup(full.Close)
		})

		It("serves the report page at the root", func() {
			resp, err := http.Get(full.URL + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("<title>integrity</title>"))
		})

		It("mounts the API under /api", func() {
			resp, err := http.Get(full.URL + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("ListenAndServe", func() {
		It("returns nil after the context is cancelled", func() {
			srv := api.New(&cfg, log.NewWithWriters("[test]", false, io.Discard, io.Discard))
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan error, 1)
			go func() {
				done <- srv.ListenAndServe(ctx, "127.0.0.1:0")
			}()

			Consistently(done, 100*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		})

		It("fails on an unusable address", func() {
			srv := api.New(&cfg, log.NewWithWriters("[test]", false, io.Discard, io.Discard))
			err := srv.ListenAndServe(context.Background(), "256.0.0.1:bad")
			Expect(err).To(HaveOccurred())
		})
	})
})
