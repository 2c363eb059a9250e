package order

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/nikipra16/parsely/internal/extract"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		mb          *mockMailbox
		parser      *mockParser
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	post := func(path, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", bytes.NewBufferString(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	BeforeEach(func() {
		db = newMockDB()
		mb = newMockMailbox()
		parser = newMockParser()
		auth = BasicAuth{}
		service = NewServiceWithDeps(db, mb, parser,
			&mockIDGenerator{id: "run-1"},
			&mockTimeSource{now: time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC)},
			Config{})
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleListOrders", func() {
		BeforeEach(func() {
			db.orders["m1"] = &Order{GmailID: "m1", Category: extract.CategoryDining, Date: time.Date(2025, 3, 2, 18, 0, 0, 0, time.UTC)}
			db.orders["m2"] = &Order{GmailID: "m2", Category: extract.CategoryGrocery, Date: time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)}
		})

		When("no filter is given", func() {
			It("should return all orders as JSON", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var orders []*Order
				decode(resp, &orders)
				Expect(orders).To(HaveLen(2))
			})
		})

		When("filtering by category", func() {
			It("should return only matching orders", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders?category=Grocery")
				Expect(err).NotTo(HaveOccurred())
				var orders []*Order
				decode(resp, &orders)
				Expect(orders).To(HaveLen(1))
				Expect(orders[0].GmailID).To(Equal("m2"))
			})
		})

		When("filtering by date", func() {
			It("should treat the end date as inclusive", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders?from=2025-03-01&to=2025-03-02")
				Expect(err).NotTo(HaveOccurred())
				var orders []*Order
				decode(resp, &orders)
				Expect(orders).To(HaveLen(1))
				Expect(orders[0].GmailID).To(Equal("m1"))
			})
		})

		When("the category is unknown", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders?category=Travel")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("a date is malformed", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders?from=March")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetOrder", func() {
		When("the order exists", func() {
			BeforeEach(func() {
				db.orders["m1"] = &Order{
					GmailID:   "m1",
					StoreName: "Mario's Pizza",
					Totals:    extract.Totals{extract.FieldTotal: decimal.RequireFromString("16.95")},
				}
			})

			It("should return the order", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders/m1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var order Order
				decode(resp, &order)
				Expect(order.StoreName).To(Equal("Mario's Pizza"))
				total, ok := order.Total()
				Expect(ok).To(BeTrue())
				Expect(total.String()).To(Equal("16.95"))
			})
		})

		When("the order does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders/missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.getErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders/m1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleDeleteOrder", func() {
		del := func(path string) *http.Response {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+path, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the order exists", func() {
			BeforeEach(func() {
				db.orders["m1"] = &Order{GmailID: "m1"}
			})

			It("should delete it and return No Content", func() {
				resp := del("/api/orders/m1")
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
				Expect(db.orders).To(BeEmpty())
			})
		})

		When("the order does not exist", func() {
			It("should return status Not Found", func() {
				resp := del("/api/orders/missing")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleSync", func() {
		BeforeEach(func() {
			mb.add(message("m1", time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), "no-reply@doordash.com", "Your order from Mario's Pizza"))
			parser.orders["Your order from Mario's Pizza"] = &extract.ParsedOrder{
				Items:    []extract.LineItem{{Brand: "Mario's Pizza", Name: "Margherita", Quantity: 1, UnitPrice: decimal.RequireFromString("14.50")}},
				Totals:   extract.Totals{},
				Category: extract.CategoryDining,
			}
		})

		When("the sync succeeds", func() {
			It("should return the run", func() {
				resp := post("/api/sync", `{"start_date": "2025-03-01", "end_date": "2025-03-31"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var run Run
				decode(resp, &run)
				Expect(run.ID).To(Equal("run-1"))
				Expect(run.Status).To(Equal(RunSuccess))
				Expect(run.EmailsFetched).To(Equal(1))
				Expect(run.OrdersMissingTotal).To(Equal(1))
			})
		})

		When("the body is empty", func() {
			It("should sync with defaults", func() {
				resp := post("/api/sync", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
				Expect(db.orders).To(HaveKey("m1"))
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/sync", "{")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("a date is malformed", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/sync", `{"start_date": "03/01/2025"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the range is inverted", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/sync", `{"start_date": "2025-03-31", "end_date": "2025-03-01"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the mailbox fails", func() {
			BeforeEach(func() {
				mb.listErr = errors.New("quota exceeded")
			})

			It("should return the failed run", func() {
				resp := post("/api/sync", "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				var body struct {
					Error string `json:"error"`
					Run   *Run   `json:"run"`
				}
				decode(resp, &body)
				Expect(body.Error).To(ContainSubstring("quota exceeded"))
				Expect(body.Run.Status).To(Equal(RunFailed))
			})
		})

		When("no mailbox is configured", func() {
			BeforeEach(func() {
				service = NewService(db, nil, parser, Config{})
				setupServer()
			})

			It("should return status Service Unavailable", func() {
				resp := post("/api/sync", "")
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})
		})
	})

	Describe("handleReparse", func() {
		BeforeEach(func() {
			db.raw["m1"] = &RawMessage{GmailID: "m1", Date: time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), Subject: "Your order"}
			parser.orders["Your order"] = &extract.ParsedOrder{
				Items:    []extract.LineItem{{Brand: "Red Bull", Name: "Original", Quantity: 1, UnitPrice: decimal.RequireFromString("2.99")}},
				Totals:   extract.Totals{extract.FieldTotal: decimal.RequireFromString("3.38")},
				Category: extract.CategoryGrocery,
			}
		})

		It("should reparse cached emails", func() {
			resp := post("/api/reparse", `{"limit": 10}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var run Run
			decode(resp, &run)
			Expect(run.Kind).To(Equal("reparse"))
			Expect(run.OrdersWithTotal).To(Equal(1))
			Expect(mb.queries).To(BeEmpty())
		})

		When("the limit is negative", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/reparse", `{"limit": -1}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleParse", func() {
		When("the email parses", func() {
			BeforeEach(func() {
				parser.orders["Your order"] = &extract.ParsedOrder{
					Items:     []extract.LineItem{{Brand: "Red Bull", Name: "Original", Quantity: 1, UnitPrice: decimal.RequireFromString("2.99")}},
					Totals:    extract.Totals{},
					Category:  extract.CategoryGrocery,
					StoreName: "Walmart",
				}
			})

			It("should return the parsed order without storing it", func() {
				resp := post("/api/parse", `{"from": "orders@walmart.com", "subject": "Your order", "body": "1x red bull"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var parsed extract.ParsedOrder
				decode(resp, &parsed)
				Expect(parsed.StoreName).To(Equal("Walmart"))
				Expect(parsed.Items).To(HaveLen(1))
				Expect(db.orders).To(BeEmpty())
			})
		})

		When("the email fails to parse", func() {
			BeforeEach(func() {
				parser.errs["Broken"] = errors.New("broken markup")
			})

			It("should return status Unprocessable Entity with the placeholder", func() {
				resp := post("/api/parse", `{"subject": "Broken"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body struct {
					Error string               `json:"error"`
					Order *extract.ParsedOrder `json:"order"`
				}
				decode(resp, &body)
				Expect(body.Error).To(Equal("broken markup"))
				Expect(body.Order.Category).To(Equal(extract.CategoryUnknown))
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/parse", "not json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleListRuns", func() {
		BeforeEach(func() {
			db.runs["r1"] = &Run{ID: "r1", Status: RunSuccess}
		})

		It("should return the runs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/runs")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var runs []*Run
			decode(resp, &runs)
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].ID).To(Equal("r1"))
		})
	})

	Describe("authenticate", func() {
		newRequest := func() *http.Request {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/orders", nil)
			Expect(err).NotTo(HaveOccurred())
			return req
		}

		When("no auth is configured", func() {
			It("should return true", func() {
				Expect(server.authenticate(newRequest())).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				setupServer()
			})

			It("should accept valid credentials", func() {
				req := newRequest()
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
				Expect(server.authenticate(req)).To(BeTrue())
			})

			It("should reject invalid credentials", func() {
				req := newRequest()
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("should reject a missing header", func() {
				Expect(server.authenticate(newRequest())).To(BeFalse())
			})

			It("should reject a malformed header", func() {
				req := newRequest()
				req.Header.Set("Authorization", "Basic !!!")
				Expect(server.authenticate(req)).To(BeFalse())
			})
		})
	})

	Describe("requireAuth", func() {
		When("request is unauthorized", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				setupServer()
			})

			It("should return status Unauthorized with a challenge", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/orders")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(Equal(`Basic realm="Parsely"`))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})
	})

	Describe("corsMiddleware", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/sync", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})
})
