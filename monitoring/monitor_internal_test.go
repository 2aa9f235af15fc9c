package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/google/pprof/profile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

type fakeTarget struct {
	lock      sync.Mutex
	paused    bool
	pauses    int
	continues int
	status    controller.Status
}

func (t *fakeTarget) Pause() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.paused = true
	t.pauses++
}

func (t *fakeTarget) Continue() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.paused = false
	t.continues++
}

func (t *fakeTarget) Status() controller.Status {
	t.lock.Lock()
	defer t.lock.Unlock()

	s := t.status
	s.Paused = t.paused

	return s
}

type inspected struct {
	Name  string
	Count int
}

var _ = Describe("Monitor", func() {
	var (
		target *fakeTarget
		m      *Monitor
		router http.Handler
	)

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

		return rec
	}

	BeforeEach(func() {
		table := resource.NewTable(2, 3, 2)
		table.GrantIfAvailable(1, 0)

		target = &fakeTarget{
			status: controller.Status{
				Now:      sim.VTime{Sec: 4, Nsec: 5},
				Policy:   "exhausted-holder",
				Counters: controller.Counters{Requests: 7, Granted: 6},
				Table:    table.Snapshot(),
				Slots: []process.SlotEntry{
					{ID: "w1", State: process.Running},
					{},
				},
			},
		}

		m = NewMonitor()
		m.RegisterTarget(target)
		router = m.Router()
	})

	It("should report the status", func() {
		rec := serve(http.MethodGet, "/api/status")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var s controller.Status
		Expect(json.Unmarshal(rec.Body.Bytes(), &s)).To(Succeed())
		Expect(s.Now).To(Equal(sim.VTime{Sec: 4, Nsec: 5}))
		Expect(s.Counters.Requests).To(Equal(uint64(7)))
		Expect(s.Policy).To(Equal("exhausted-holder"))
	})

	It("should report the time", func() {
		rec := serve(http.MethodGet, "/api/now")

		Expect(rec.Body.String()).To(MatchJSON(`{"sec":4,"nsec":5}`))
	})

	It("should report the resource table", func() {
		rec := serve(http.MethodGet, "/api/table")

		Expect(rec.Body.String()).To(MatchJSON(`{"resources":[
			{"total":3,"available":3,"allocated":[0,0]},
			{"total":3,"available":2,"allocated":[1,0]}]}`))
	})

	It("should report counters and slots", func() {
		rec := serve(http.MethodGet, "/api/counters")
		Expect(rec.Body.String()).To(ContainSubstring(`"granted":6`))

		rec = serve(http.MethodGet, "/api/slots")
		Expect(rec.Body.String()).To(MatchJSON(`[
			{"id":"w1","state":"running"},
			{"id":"","state":"free"}]`))
	})

	It("should pause and continue", func() {
		rec := serve(http.MethodPost, "/api/pause")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(target.Status().Paused).To(BeTrue())

		rec = serve(http.MethodPost, "/api/continue")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(target.Status().Paused).To(BeFalse())
	})

	It("should only pause on POST", func() {
		rec := serve(http.MethodGet, "/api/pause")

		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(target.pauses).To(BeZero())
	})

	It("should not serve pages for API paths", func() {
		rec := serve(http.MethodGet, "/api/nothing")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Body.String()).ToNot(ContainSubstring("<!DOCTYPE html>"))

		rec = serve(http.MethodPost, "/")
		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should list components", func() {
		m.RegisterComponent("table", &inspected{})
		m.RegisterComponent("mailbox", &inspected{})

		rec := serve(http.MethodGet, "/api/list_components")

		Expect(rec.Body.String()).To(MatchJSON(`["mailbox","table"]`))
	})

	It("should serialize a component while paused", func() {
		m.RegisterComponent("thing", &inspected{Name: "x", Count: 3})

		rec := serve(http.MethodGet, "/api/component/thing")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).ToNot(BeEmpty())
		Expect(target.pauses).To(Equal(1))
		Expect(target.continues).To(Equal(1))
	})

	It("should not resume a target paused by someone else", func() {
		m.RegisterComponent("thing", &inspected{})
		target.Pause()

		serve(http.MethodGet, "/api/component/thing")

		Expect(target.Status().Paused).To(BeTrue())
		Expect(target.continues).To(BeZero())
	})

	It("should serialize one field", func() {
		m.RegisterComponent("thing", &inspected{Name: "x", Count: 3})
		req := url.PathEscape(`{"comp_name":"thing","field_name":"Count"}`)

		rec := serve(http.MethodGet, "/api/field/"+req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("should 404 on unknown components", func() {
		rec := serve(http.MethodGet, "/api/component/nothing")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should reject malformed field requests", func() {
		rec := serve(http.MethodGet, "/api/field/notjson")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should track worker progress", func() {
		bar := m.CreateProgressBar("Workers", 3)
		hook := WorkerProgress(bar)

		hook.Func(sim.HookCtx{Pos: controller.HookPosSpawn})
		hook.Func(sim.HookCtx{Pos: controller.HookPosSpawn})
		hook.Func(sim.HookCtx{Pos: controller.HookPosReap})
		hook.Func(sim.HookCtx{Pos: controller.HookPosGrant})

		rec := serve(http.MethodGet, "/api/progress")

		var bars []ProgressBarStatus
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Workers"))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))
		Expect(bars[0].Finished).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		rec = serve(http.MethodGet, "/api/progress")
		Expect(rec.Body.String()).To(MatchJSON(`[]`))
	})

	It("should report the resources of the process", func() {
		rec := serve(http.MethodGet, "/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the page", func() {
		rec := serve(http.MethodGet, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should summarize profiles", func() {
		fn := func(name string) *profile.Location {
			return &profile.Location{
				Line: []profile.Line{{Function: &profile.Function{Name: name}}},
			}
		}

		prof := &profile.Profile{
			DurationNanos: 1000,
			Sample: []*profile.Sample{
				{Location: []*profile.Location{fn("a")}, Value: []int64{2}},
				{Location: []*profile.Location{fn("b")}, Value: []int64{5}},
				{Location: []*profile.Location{fn("a")}, Value: []int64{1}},
				{Value: []int64{9}},
			},
		}

		rsp := summarizeProfile(prof, 1)

		Expect(rsp.Samples).To(Equal(4))
		Expect(rsp.Top).To(Equal([]profileRecord{{Function: "b", Samples: 5}}))
	})

	It("should refuse low port numbers", func() {
		m.WithPortNumber(80)

		Expect(m.portNumber).To(BeZero())
	})

	It("should not start without a target", func() {
		_, err := NewMonitor().StartServer()

		Expect(err).To(HaveOccurred())
	})

	It("should serve over the network", func() {
		addr, err := m.StartServer()
		Expect(err).ToNot(HaveOccurred())
		defer m.StopServer(context.Background())

		rsp, err := http.Get(addr + "/api/now")
		Expect(err).ToNot(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(MatchJSON(`{"sec":4,"nsec":5}`))
	})
})
