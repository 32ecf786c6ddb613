package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = ginkgo.Describe("Server", func() {
	var (
		extractor   *mockExtractor
		previews    *mockPreviewStore
		manager     *Manager
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		// each request consumes one handler slot
		for i := 0; i < 20; i++ {
			ghttpServer.AppendHandlers(server.ServeHTTP)
		}
	}

	ginkgo.BeforeEach(func() {
		extractor = newMockExtractor()
		previews = newMockPreviewStore()
		manager = NewManagerWithDeps(extractor, previews, newMockVocabularyDB(), &mockIDGenerator{})
		auth = BasicAuth{}
		server = NewServerWithMux(manager, auth, http.NewServeMux())
		setupServer()
	})

	ginkgo.AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	uploadFiles := func(names ...string) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for _, name := range names {
			part, err := writer.CreateFormFile("files", name+".jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte(name))
			Expect(err).NotTo(HaveOccurred())
		}
		writer.Close()

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	put := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req, err := http.NewRequest("PUT", ghttpServer.URL()+path, bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	post := func(path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", reader)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	waitCompleted := func(id string) {
		Eventually(func() Status {
			for _, e := range manager.Snapshot().Entries {
				if e.ID == id {
					return e.Status
				}
			}
			return ""
		}).Should(Equal(StatusCompleted))
	}

	classifyAndConfirm := func(id string) {
		waitCompleted(id)
		for field, value := range map[string]string{
			"category":     "Grocery",
			"from_account": "Cash",
			"paid_by":      "Tony",
		} {
			resp := put("/api/receipts/"+id+"/classification", map[string]string{"field": field, "value": value})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
		}
		resp := post("/api/receipts/"+id+"/confirm", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		resp.Body.Close()
	}

	ginkgo.Describe("handleIndex", func() {
		ginkgo.It("should return HTML containing Receipt OCR", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Receipt OCR"))
		})

		ginkgo.When("request method is not GET", func() {
			ginkgo.It("should return status Method Not Allowed", func() {
				resp, err := http.Post(ghttpServer.URL()+"/", "text/plain", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
				resp.Body.Close()
			})
		})
	})

	ginkgo.Describe("static assets", func() {
		ginkgo.It("should serve the stylesheet", func() {
			resp, err := http.Get(ghttpServer.URL() + "/static/app.css")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})

		ginkgo.It("should serve the script", func() {
			resp, err := http.Get(ghttpServer.URL() + "/static/app.js")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/javascript"))
		})
	})

	ginkgo.Describe("handleState", func() {
		ginkgo.It("should return the empty state", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var state struct {
				Entries        []Entry      `json:"entries"`
				ActiveID       string       `json:"active_id"`
				Vocabularies   Vocabularies `json:"vocabularies"`
				ConfirmedCount int          `json:"confirmed_count"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state.Entries).To(BeEmpty())
			Expect(state.ActiveID).To(BeEmpty())
			Expect(state.ConfirmedCount).To(BeZero())
			Expect(state.Vocabularies.Categories).NotTo(BeEmpty())
		})

		ginkgo.It("should include enqueued entries", func() {
			resp := uploadFiles("a")
			resp.Body.Close()

			resp, err := http.Get(ghttpServer.URL() + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var state struct {
				Entries  []Entry `json:"entries"`
				ActiveID string  `json:"active_id"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state.Entries).To(HaveLen(1))
			Expect(state.ActiveID).To(Equal("id-1"))
		})
	})

	ginkgo.Describe("handleUpload", func() {
		ginkgo.When("files are provided", func() {
			ginkgo.It("should return status Created with one entry per file", func() {
				resp := uploadFiles("a", "b")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var entries []Entry
				Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
				Expect(entries).To(HaveLen(2))
				Expect(entries[0].Status).To(Equal(StatusProcessing))
				Expect(entries[0].PreviewURL).To(Equal("/api/receipts/id-1/preview"))
			})
		})

		ginkgo.When("no files are provided", func() {
			ginkgo.It("should return status OK with an empty array", func() {
				resp := uploadFiles()
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var entries []Entry
				Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
				Expect(entries).To(BeEmpty())
			})
		})

		ginkgo.When("the form is invalid", func() {
			ginkgo.It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("Error parsing form"))
			})
		})
	})

	ginkgo.Describe("handlePreview", func() {
		ginkgo.BeforeEach(func() {
			resp := uploadFiles("a")
			resp.Body.Close()
		})

		ginkgo.It("should return the original bytes with the upload's content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id-1/preview")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("a")))
		})

		ginkgo.It("should return status Not Found for an unknown entry", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nonexistent/preview")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	ginkgo.Describe("handleUpdateClassification", func() {
		ginkgo.BeforeEach(func() {
			resp := uploadFiles("a")
			resp.Body.Close()
			waitCompleted("id-1")
		})

		ginkgo.It("should set the field", func() {
			resp := put("/api/receipts/id-1/classification", map[string]string{"field": "category", "value": "Grocery"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			Expect(manager.Snapshot().Entries[0].SelectedCategory).To(Equal("Grocery"))
		})

		ginkgo.It("should return status Bad Request for an invalid body", func() {
			req, err := http.NewRequest("PUT", ghttpServer.URL()+"/api/receipts/id-1/classification", bytes.NewBufferString("not json"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		ginkgo.It("should return status Not Found for an unknown entry", func() {
			resp := put("/api/receipts/nonexistent/classification", map[string]string{"field": "category", "value": "Grocery"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		ginkgo.It("should return status Conflict for a confirmed entry", func() {
			classifyAndConfirm("id-1")

			resp := put("/api/receipts/id-1/classification", map[string]string{"field": "category", "value": "Meal"})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})
	})

	ginkgo.Describe("handleConfirm", func() {
		ginkgo.BeforeEach(func() {
			resp := uploadFiles("a")
			resp.Body.Close()
			waitCompleted("id-1")
		})

		ginkgo.When("classification is incomplete", func() {
			ginkgo.It("should return status Conflict", func() {
				resp := post("/api/receipts/id-1/confirm", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})

		ginkgo.When("classification is complete", func() {
			ginkgo.It("should confirm and allow unconfirm", func() {
				classifyAndConfirm("id-1")
				Expect(manager.Snapshot().Entries[0].IsConfirmed).To(BeTrue())

				resp := post("/api/receipts/id-1/unconfirm", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
				Expect(manager.Snapshot().Entries[0].IsConfirmed).To(BeFalse())
			})
		})
	})

	ginkgo.Describe("handleRetry", func() {
		ginkgo.It("should return status Conflict for a completed entry", func() {
			resp := uploadFiles("a")
			resp.Body.Close()
			waitCompleted("id-1")

			resp = post("/api/receipts/id-1/retry", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		ginkgo.It("should return status Not Found for an unknown entry", func() {
			resp := post("/api/receipts/nonexistent/retry", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	ginkgo.Describe("handleSetActive", func() {
		ginkgo.BeforeEach(func() {
			resp := uploadFiles("a", "b")
			resp.Body.Close()
		})

		ginkgo.It("should select an existing entry", func() {
			resp := put("/api/active", map[string]string{"id": "id-2"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(manager.Snapshot().ActiveID).To(Equal("id-2"))
		})

		ginkgo.It("should accept clearing the selection", func() {
			resp := put("/api/active", map[string]string{"id": ""})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(manager.Snapshot().ActiveID).To(BeEmpty())
		})

		ginkgo.It("should return status Not Found for an unknown entry", func() {
			resp := put("/api/active", map[string]string{"id": "nonexistent"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	ginkgo.Describe("handleAddVocabulary", func() {
		ginkgo.It("should return status Created with the updated vocabularies", func() {
			resp := post("/api/vocabularies/categories", map[string]string{"value": "Books"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var vocabs Vocabularies
			Expect(json.NewDecoder(resp.Body).Decode(&vocabs)).To(Succeed())
			Expect(vocabs.Categories).To(ContainElement("Books"))
		})

		ginkgo.It("should return status Conflict for a duplicate", func() {
			resp := post("/api/vocabularies/categories", map[string]string{"value": "grocery"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("already exists"))
		})

		ginkgo.It("should return status Bad Request for an unknown vocabulary", func() {
			resp := post("/api/vocabularies/colors", map[string]string{"value": "red"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	ginkgo.Describe("handleExport", func() {
		ginkgo.When("nothing is confirmed", func() {
			ginkgo.It("should return status No Content", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
			})
		})

		ginkgo.When("a confirmed entry exists", func() {
			ginkgo.BeforeEach(func() {
				resp := uploadFiles("a")
				resp.Body.Close()
				classifyAndConfirm("id-1")
			})

			ginkgo.It("should offer a CSV download", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/csv"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("attachment"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts_summary_"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				lines := bytes.Split(body, []byte("\n"))
				Expect(lines).To(HaveLen(2))
				Expect(string(lines[0])).To(Equal("Month,Date,Type,Item,Vendor,Amount,From Account,Paid by"))
				Expect(string(lines[1])).To(ContainSubstring(`"Test Market"`))
			})
		})
	})

	ginkgo.Describe("handleReset", func() {
		ginkgo.It("should discard all entries", func() {
			resp := uploadFiles("a")
			resp.Body.Close()

			resp = post("/api/reset", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			Expect(manager.Snapshot().Entries).To(BeEmpty())
			Expect(previews.files).To(BeEmpty())
		})
	})

	ginkgo.Describe("handleEvents", func() {
		ginkgo.It("should stream a change event per mutation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			done := make(chan struct{})
			go func() {
				defer close(done)
				server.ServeHTTP(rec, req)
			}()

			manager.Enqueue([]Upload{upload("a")})
			cancel()
			Eventually(done).Should(BeClosed())

			Expect(rec.Header().Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(rec.Body.String()).To(ContainSubstring("data: change"))
		})
	})

	ginkgo.Describe("requireAuth", func() {
		ginkgo.When("credentials are configured", func() {
			ginkgo.BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(manager, auth, http.NewServeMux())
				setupServer()
			})

			ginkgo.It("should reject requests without credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/state")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
				resp.Body.Close()
			})

			ginkgo.It("should accept valid credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/state", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pass"))
				req.Header.Set("Authorization", "Basic "+credentials)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})

			ginkgo.It("should reject wrong credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/state", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:wrong"))
				req.Header.Set("Authorization", "Basic "+credentials)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
