// Package monitoring turns a running simulation into a web server, so that it
// can be observed and paused from a browser.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/monitoring/web"
	"github.com/sarchlab/ossim/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// A Target is a simulation that can be monitored.
type Target interface {
	Pause()
	Continue()
	Status() controller.Status
}

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	target      Target
	portNumber  int
	openBrowser bool
	logger      *slog.Logger

	componentsLock sync.Mutex
	components     map[string]any

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]any),
		logger:     slog.Default(),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// not allowed; a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("monitoring port not allowed, using a random port",
			"port", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes the monitor open its page in a browser once the server
// starts.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// WithLogger sets the diagnostic logger.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterTarget registers the simulation that is monitored.
func (m *Monitor) RegisterTarget(t Target) {
	m.target = t
}

// RegisterComponent registers an object whose fields can be inspected by
// name. Objects are only inspected while the target is paused.
func (m *Monitor) RegisterComponent(name string, c any) {
	m.componentsLock.Lock()
	defer m.componentsLock.Unlock()

	m.components[name] = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API and pages.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueTarget).Methods(http.MethodPost)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/table", m.table)
	r.HandleFunc("/api/counters", m.counters)
	r.HandleFunc("/api/slots", m.slots)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").
		Methods(http.MethodGet, http.MethodHead).
		MatcherFunc(notAPI).
		Handler(http.FileServer(web.Assets()))

	return r
}

func notAPI(r *http.Request, _ *mux.RouteMatch) bool {
	return !strings.HasPrefix(r.URL.Path, "/api/")
}

// StartServer starts serving in the background and returns the address the
// server listens on.
func (m *Monitor) StartServer() (string, error) {
	if m.target == nil {
		return "", errors.New("no simulation registered for monitoring")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.portNumber))
	if err != nil {
		return "", fmt.Errorf("starting monitoring server: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.logger.Info("monitoring simulation", "url", url)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitoring server stopped", "err", err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.logger.Warn("cannot open browser", "err", err)
		}
	}

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.target.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueTarget(w http.ResponseWriter, _ *http.Request) {
	m.target.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.target.Status().Now)
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.target.Status())
}

func (m *Monitor) table(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.target.Status().Table)
}

func (m *Monitor) counters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.target.Status().Counters)
}

func (m *Monitor) slots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.target.Status().Slots)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.componentsLock.Lock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	m.componentsLock.Unlock()

	sort.Strings(names)

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	m.serializePaused(w, component, nil)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	m.serializePaused(w, component, strings.Split(req.FieldName, "."))
}

// serializePaused writes the fields of component while the target is
// paused, so that the loop does not change them underneath the serializer.
func (m *Monitor) serializePaused(
	w http.ResponseWriter,
	component any,
	entryPoint []string,
) {
	wasPaused := m.target.Status().Paused
	if !wasPaused {
		m.target.Pause()
		defer m.target.Continue()
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if entryPoint != nil {
		if err := serializer.SetEntryPoint(entryPoint); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := serializer.Serialize(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write(buf.Bytes())
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) any {
	m.componentsLock.Lock()
	component, found := m.components[name]
	m.componentsLock.Unlock()

	if !found {
		http.Error(w, "Component not found", http.StatusNotFound)
		return nil
	}

	return component
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Status())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

// profileRsp lists the functions that were sampled the most.
type profileRsp struct {
	Duration time.Duration   `json:"duration"`
	Samples  int             `json:"samples"`
	Top      []profileRecord `json:"top"`
}

type profileRecord struct {
	Function string `json:"function"`
	Samples  int64  `json:"samples"`
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, summarizeProfile(prof, 20))
}

func summarizeProfile(prof *profile.Profile, n int) profileRsp {
	counts := make(map[string]int64)

	for _, s := range prof.Sample {
		if len(s.Location) == 0 || len(s.Value) == 0 {
			continue
		}

		for _, line := range s.Location[0].Line {
			if line.Function != nil {
				counts[line.Function.Name] += s.Value[0]
			}
		}
	}

	rsp := profileRsp{
		Duration: time.Duration(prof.DurationNanos),
		Samples:  len(prof.Sample),
		Top:      make([]profileRecord, 0, len(counts)),
	}

	for name, c := range counts {
		rsp.Top = append(rsp.Top, profileRecord{Function: name, Samples: c})
	}

	sort.Slice(rsp.Top, func(i, j int) bool {
		if rsp.Top[i].Samples != rsp.Top[j].Samples {
			return rsp.Top[i].Samples > rsp.Top[j].Samples
		}

		return rsp.Top[i].Function < rsp.Top[j].Function
	})

	if len(rsp.Top) > n {
		rsp.Top = rsp.Top[:n]
	}

	return rsp
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
