package controller

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/log"
	"github.com/paddockd/paddock/pkg/store"
	"github.com/paddockd/paddock/pkg/subsystem"
	"github.com/paddockd/paddock/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type logEntry struct {
	reservationID string
	computerID    string
	stage         string
	message       string
}

// fakeStore is an in-memory Store with per-method error injection.
type fakeStore struct {
	mu           sync.Mutex
	requests     map[string]*types.Request
	reservations map[string]*types.Reservation
	computers    map[string]*types.Computer
	logs         []logEntry
	processing   map[string]int64
	endings      map[int64]string
	blocks       map[string]bool
	heartbeats   map[string]int
	errs         map[string]error
	closes       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:     make(map[string]*types.Request),
		reservations: make(map[string]*types.Reservation),
		computers:    make(map[string]*types.Computer),
		processing:   make(map[string]int64),
		endings:      make(map[int64]string),
		blocks:       make(map[string]bool),
		heartbeats:   make(map[string]int),
		errs:         make(map[string]error),
	}
}

func (s *fakeStore) fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = err
}

func (s *fakeStore) injected(method string) error {
	return s.errs[method]
}

func (s *fakeStore) CreateRequest(req *types.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *fakeStore) RequestState(requestID string) (types.RequestState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("RequestState"); err != nil {
		return "", err
	}
	req, ok := s.requests[requestID]
	if !ok {
		return "", store.ErrNotFound
	}
	return req.State, nil
}

func (s *fakeStore) SetRequestState(requestID string, state, prior types.RequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetRequestState"); err != nil {
		return err
	}
	req, ok := s.requests[requestID]
	if !ok {
		return store.ErrNotFound
	}
	req.State = state
	req.LastState = prior
	return nil
}

func (s *fakeStore) RequestDeleted(requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("RequestDeleted"); err != nil {
		return false, err
	}
	_, ok := s.requests[requestID]
	return !ok, nil
}

func (s *fakeStore) DeleteRequest(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, requestID)
	return nil
}

func (s *fakeStore) CreateReservation(res *types.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[res.ID] = res
	return nil
}

func (s *fakeStore) Reservation(id string) (*types.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) ReservationIDs(requestID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ReservationIDs"); err != nil {
		return nil, err
	}
	var ids []string
	for id, res := range s.reservations {
		if res.RequestID == requestID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) RecordHeartbeat(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("RecordHeartbeat"); err != nil {
		return err
	}
	s.heartbeats[reservationID]++
	return nil
}

func (s *fakeStore) heartbeatCount(reservationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats[reservationID]
}

func (s *fakeStore) CreateComputer(comp *types.Computer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computers[comp.ID] = comp
	return nil
}

func (s *fakeStore) Computer(id string) (*types.Computer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comp, ok := s.computers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return comp, nil
}

func (s *fakeStore) ComputerState(computerID string) (types.ComputerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ComputerState"); err != nil {
		return "", err
	}
	comp, ok := s.computers[computerID]
	if !ok {
		return "", store.ErrNotFound
	}
	return comp.State, nil
}

func (s *fakeStore) SetComputerState(computerID string, state types.ComputerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetComputerState"); err != nil {
		return err
	}
	comp, ok := s.computers[computerID]
	if !ok {
		return store.ErrNotFound
	}
	comp.State = state
	return nil
}

func (s *fakeStore) AppendLoadLog(reservationID, computerID, stage, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("AppendLoadLog"); err != nil {
		return err
	}
	s.logs = append(s.logs, logEntry{reservationID, computerID, stage, message})
	return nil
}

func (s *fakeStore) StagesByReservation(requestID string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("StagesByReservation"); err != nil {
		return nil, err
	}
	stages := make(map[string][]string)
	for id, res := range s.reservations {
		if res.RequestID == requestID {
			stages[id] = nil
		}
	}
	for _, entry := range s.logs {
		if _, ok := stages[entry.reservationID]; ok {
			stages[entry.reservationID] = append(stages[entry.reservationID], entry.stage)
		}
	}
	return stages, nil
}

func (s *fakeStore) DeleteLoadLog(reservationIDs []string, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("DeleteLoadLog"); err != nil {
		return err
	}
	keep := s.logs[:0]
	for _, entry := range s.logs {
		match := false
		for _, id := range reservationIDs {
			if entry.reservationID == id && entry.stage == stage {
				match = true
				break
			}
		}
		if !match {
			keep = append(keep, entry)
		}
	}
	s.logs = keep
	return nil
}

func (s *fakeStore) stagesFor(reservationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, entry := range s.logs {
		if entry.reservationID == reservationID {
			out = append(out, entry.stage)
		}
	}
	return out
}

func (s *fakeStore) CreateProcessingLog(requestID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.endings) + len(s.processing) + 1)
	s.processing[requestID] = id
	return id, nil
}

func (s *fakeStore) LatestProcessingLog(requestID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("LatestProcessingLog"); err != nil {
		return 0, err
	}
	id, ok := s.processing[requestID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func (s *fakeStore) MarkProcessingLogEnding(logID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("MarkProcessingLogEnding"); err != nil {
		return err
	}
	s.endings[logID] = value
	return nil
}

func (s *fakeStore) AddBlockComputer(computerID, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[computerID] = true
	return nil
}

func (s *fakeStore) InBlockAllocation(computerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("InBlockAllocation"); err != nil {
		return false, err
	}
	return s.blocks[computerID], nil
}

func (s *fakeStore) ClearBlockAllocation(computerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ClearBlockAllocation"); err != nil {
		return err
	}
	delete(s.blocks, computerID)
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Subsystem fakes.

type fakeMgmt struct{ closes int }

func (f *fakeMgmt) CheckServing(ctx context.Context) error { return nil }
func (f *fakeMgmt) Close() error                           { f.closes++; return nil }

type fakeTarget struct {
	closes   int
	readyErr error
}

func (f *fakeTarget) ID() string                                  { return "target" }
func (f *fakeTarget) AwaitReady(ctx context.Context) error        { return f.readyErr }
func (f *fakeTarget) Shutdown(ctx context.Context) error          { return nil }
func (f *fakeTarget) SetPower(power subsystem.ProvisioningHandle) {}
func (f *fakeTarget) Close() error                                { f.closes++; return nil }

type fakeVHost struct {
	id     string
	closes int
}

func (f *fakeVHost) ID() string                                          { return f.id }
func (f *fakeVHost) StartGuest(ctx context.Context, domain string) error { return nil }
func (f *fakeVHost) StopGuest(ctx context.Context, domain string) error  { return nil }
func (f *fakeVHost) Close() error                                        { f.closes++; return nil }

type fakeProv struct {
	vhost    subsystem.VirtualHostHandle
	guest    subsystem.TargetHandle
	powerOns int
	closes   int
	powerErr error
}

func (f *fakeProv) ID() string                               { return "prov" }
func (f *fakeProv) PowerOn(ctx context.Context) error        { f.powerOns++; return f.powerErr }
func (f *fakeProv) PowerOff(ctx context.Context) error       { return nil }
func (f *fakeProv) Reset(ctx context.Context) error          { return nil }
func (f *fakeProv) SetGuest(guest subsystem.TargetHandle)    { f.guest = guest }
func (f *fakeProv) VirtualHost() subsystem.VirtualHostHandle { return f.vhost }
func (f *fakeProv) Close() error                             { f.closes++; return nil }

type fakeFactory struct {
	mgmt   *fakeMgmt
	target *fakeTarget
	vhost  *fakeVHost
	prov   *fakeProv

	mgmtErr   error
	targetErr error
	vhostErr  error
	provErr   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		mgmt:   &fakeMgmt{},
		target: &fakeTarget{},
		vhost:  &fakeVHost{id: "built-vhost"},
		prov:   &fakeProv{},
	}
}

func (f *fakeFactory) Management(ctx context.Context) (subsystem.ManagementHandle, error) {
	if f.mgmtErr != nil {
		return nil, f.mgmtErr
	}
	return f.mgmt, nil
}

func (f *fakeFactory) Target(ctx context.Context) (subsystem.TargetHandle, error) {
	if f.targetErr != nil {
		return nil, f.targetErr
	}
	return f.target, nil
}

func (f *fakeFactory) VirtualHost(ctx context.Context) (subsystem.VirtualHostHandle, error) {
	if f.vhostErr != nil {
		return nil, f.vhostErr
	}
	return f.vhost, nil
}

func (f *fakeFactory) Provisioning(ctx context.Context) (subsystem.ProvisioningHandle, error) {
	if f.provErr != nil {
		return nil, f.provErr
	}
	return f.prov, nil
}

// Fixture: request req1 with parent reservation res-p on computer c1.
// addChild adds res-c on c2 when a sibling is needed.
func seed(s *fakeStore) {
	s.CreateRequest(&types.Request{ID: "req1", State: types.RequestStateNew})
	s.CreateComputer(&types.Computer{ID: "c1", Name: "node01", State: types.ComputerStateReserved})
	s.CreateReservation(&types.Reservation{
		ID: "res-p", RequestID: "req1", ComputerID: "c1", Role: types.RoleParent,
	})
}

func addChild(s *fakeStore) {
	s.CreateComputer(&types.Computer{ID: "c2", Name: "node02", State: types.ComputerStateReserved})
	s.CreateReservation(&types.Reservation{
		ID: "res-c", RequestID: "req1", ComputerID: "c2", Role: types.RoleChild,
	})
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Barrier.Total = config.Duration(200 * time.Millisecond)
	cfg.Barrier.Poll = config.Duration(10 * time.Millisecond)
	cfg.Barrier.BeginTotal = config.Duration(200 * time.Millisecond)
	cfg.Barrier.BeginPoll = config.Duration(10 * time.Millisecond)
	cfg.Heartbeat.Interval = config.Duration(time.Hour)
	return cfg
}

// captureExit routes process termination into a recorded code.
func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	prev := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = prev })
	return &code
}

func TestNewSingleReservation(t *testing.T) {
	st := newFakeStore()
	seed(st)
	factory := newFakeFactory()

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: factory})
	require.NoError(t, err)

	assert.Equal(t, []string{types.StageBegin}, st.stagesFor("res-p"))
	assert.GreaterOrEqual(t, st.heartbeatCount("res-p"), 1)

	// Parent advanced the request to pending with the prior preserved.
	assert.Equal(t, types.RequestStatePending, st.requests["req1"].State)
	assert.Equal(t, types.RequestStateNew, st.requests["req1"].LastState)

	// Bare-metal computer, so the built virtual-host handle is skipped.
	assert.Equal(t, 0, factory.vhost.closes)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, st.closes)
}

func TestNewRespawnKeepsRequestState(t *testing.T) {
	// The monitor respawned the worker after the request already moved
	// past its initial state; startup must not drag it back to pending
	// or clobber the laststate chain.
	tests := []struct {
		name  string
		state types.RequestState
		prior types.RequestState
	}{
		{name: "mid-install", state: types.RequestStateInstalling, prior: types.RequestStatePending},
		{name: "already terminal", state: types.RequestStateReady, prior: types.RequestStateInstalling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			seed(st)
			st.requests["req1"].State = tt.state
			st.requests["req1"].LastState = tt.prior

			c, err := New(context.Background(), "res-p",
				Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.state, st.requests["req1"].State)
			assert.Equal(t, tt.prior, st.requests["req1"].LastState)
		})
	}
}

func TestNewUnknownReservation(t *testing.T) {
	st := newFakeStore()
	seed(st)

	_, err := New(context.Background(), "res-missing",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	assert.Error(t, err)
}

func TestNewConstructionFailureAborts(t *testing.T) {
	st := newFakeStore()
	seed(st)
	factory := newFakeFactory()
	factory.targetErr = assert.AnError

	_, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: factory})
	require.Error(t, err)

	// Nothing past the failed handle was attempted and no begin stage
	// was recorded.
	assert.Equal(t, 0, factory.prov.powerOns)
	assert.Empty(t, st.stagesFor("res-p"))
	assert.Equal(t, 1, factory.mgmt.closes)
}

func TestNewAdoptsProvisionerVirtualHost(t *testing.T) {
	st := newFakeStore()
	seed(st)
	st.computers["c1"].VirtualHost = "hv01"

	factory := newFakeFactory()
	resolved := &fakeVHost{id: "resolved-vhost"}
	factory.prov.vhost = resolved

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: factory})
	require.NoError(t, err)
	defer c.Close()

	// The backend's own handle wins; the startup-built one is released.
	assert.Same(t, resolved, c.vhost.(*fakeVHost))
	assert.Equal(t, 1, factory.vhost.closes)
}

func TestNewParentWaitsForSiblingBegin(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)

	go func() {
		time.Sleep(30 * time.Millisecond)
		st.AppendLoadLog("res-c", "c2", types.StageBegin, "")
	}()

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, types.RequestStatePending, st.requests["req1"].State)
}

func TestNewParentBeginBarrierTimeout(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)
	code := captureExit(t)

	cfg := testConfig()
	cfg.Barrier.BeginTotal = config.Duration(50 * time.Millisecond)

	_, err := New(context.Background(), "res-p",
		Options{Config: cfg, Store: st, Factory: newFakeFactory()})
	require.Error(t, err)

	assert.Equal(t, 1, *code)
	assert.Contains(t, st.stagesFor("res-p"), types.StageFailed)
	assert.Equal(t, types.RequestStateFailed, st.requests["req1"].State)
	assert.Equal(t, types.RequestStateNew, st.requests["req1"].LastState)
	assert.Equal(t, types.ComputerStateFailed, st.computers["c1"].State)
}

func TestNewRequestDeletedMidWait(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)
	code := captureExit(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		st.DeleteRequest("req1")
	}()

	_, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.Error(t, err)

	// Deletion is cancellation: success exit, no failed stage, the
	// computer's state is left alone.
	assert.Equal(t, 0, *code)
	assert.NotContains(t, st.stagesFor("res-p"), types.StageFailed)
	assert.Equal(t, types.ComputerStateReserved, st.computers["c1"].State)
}

func TestChildSkipsBeginBarrier(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)

	// The parent never records begin, yet the child comes up without
	// waiting: only parents hold the begin barrier.
	c, err := New(context.Background(), "res-c",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)
	defer c.Close()

	// And the child never touches the request state.
	assert.Equal(t, types.RequestStateNew, st.requests["req1"].State)
}

func TestProcessParent(t *testing.T) {
	st := newFakeStore()
	seed(st)
	factory := newFakeFactory()

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: factory})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Process(context.Background()))

	assert.Equal(t, 1, factory.prov.powerOns)
	assert.Equal(t, []string{types.StageBegin, types.StageReady}, st.stagesFor("res-p"))
	assert.Equal(t, types.RequestStateReady, st.requests["req1"].State)
	assert.Equal(t, types.RequestStateInstalling, st.requests["req1"].LastState)
}

func TestProcessPowerOnFailure(t *testing.T) {
	st := newFakeStore()
	seed(st)
	factory := newFakeFactory()
	factory.prov.powerErr = assert.AnError

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: factory})
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.Process(context.Background()))
	assert.NotContains(t, st.stagesFor("res-p"), types.StageReady)
}

func newTestController(t *testing.T, st *fakeStore) *Controller {
	t.Helper()
	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)
	return c
}

func TestFailMarksEverything(t *testing.T) {
	st := newFakeStore()
	seed(st)
	st.requests["req1"].State = types.RequestStateInstalling
	st.processing["req1"] = 7
	st.blocks["c1"] = true
	code := captureExit(t)

	c := newTestController(t, st)
	c.Fail("disk caught fire")

	assert.Equal(t, 1, *code)
	assert.Contains(t, st.stagesFor("res-p"), types.StageFailed)
	assert.Equal(t, types.RequestStateFailed, st.requests["req1"].State)
	assert.Equal(t, types.RequestStateInstalling, st.requests["req1"].LastState)
	assert.Equal(t, types.ComputerStateFailed, st.computers["c1"].State)
	assert.Equal(t, types.ProcessingLogEndingFailed, st.endings[7])
	assert.False(t, st.blocks["c1"])
	assert.Equal(t, 1, st.closes)
}

func TestFailTerminalRequestKeepsProcessingLog(t *testing.T) {
	st := newFakeStore()
	seed(st)
	st.requests["req1"].State = types.RequestStateReady
	st.processing["req1"] = 7
	captureExit(t)

	c := newTestController(t, st)
	c.Fail("late failure")

	// The request was no longer in flight, so its processing log keeps
	// whatever ending it already had.
	assert.Empty(t, st.endings)
}

func TestFailDeletedRequest(t *testing.T) {
	st := newFakeStore()
	seed(st)
	code := captureExit(t)

	c := newTestController(t, st)
	st.DeleteRequest("req1")
	c.Fail("whatever went wrong")

	assert.Equal(t, 0, *code)
	assert.Equal(t, types.ComputerStateAvailable, st.computers["c1"].State)
	assert.NotContains(t, st.stagesFor("res-p"), types.StageFailed)
}

func TestFailNeverOverwritesMaintenance(t *testing.T) {
	tests := []struct {
		name    string
		deleted bool
	}{
		{name: "deleted request", deleted: true},
		{name: "live request", deleted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			seed(st)
			captureExit(t)

			c := newTestController(t, st)
			st.computers["c1"].State = types.ComputerStateMaintenance
			if tt.deleted {
				st.DeleteRequest("req1")
			}
			c.Fail("boom")

			assert.Equal(t, types.ComputerStateMaintenance, st.computers["c1"].State)
		})
	}
}

func TestFailContinuesPastStoreErrors(t *testing.T) {
	st := newFakeStore()
	seed(st)
	st.blocks["c1"] = true
	code := captureExit(t)

	c := newTestController(t, st)

	// Every early cascade step fails; the later ones still run.
	st.fail("AppendLoadLog", assert.AnError)
	st.fail("SetComputerState", assert.AnError)
	c.Fail("cascade through rubble")

	assert.Equal(t, 1, *code)
	assert.Equal(t, types.RequestStateFailed, st.requests["req1"].State)
	assert.False(t, st.blocks["c1"])
	assert.Equal(t, 1, st.closes)
}

func TestCloseParentResetsBeginStages(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)
	st.AppendLoadLog("res-c", "c2", types.StageBegin, "")

	c, err := New(context.Background(), "res-p",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)

	st.AppendLoadLog("res-p", "c1", types.StageReady, "")
	require.NoError(t, c.Close())

	// Begin entries are gone for every reservation of the request;
	// other stages survive.
	assert.NotContains(t, st.stagesFor("res-p"), types.StageBegin)
	assert.NotContains(t, st.stagesFor("res-c"), types.StageBegin)
	assert.Contains(t, st.stagesFor("res-p"), types.StageReady)
	assert.Equal(t, []string{types.StageReady}, c.Stages()["res-p"])
}

func TestCloseChildLeavesLog(t *testing.T) {
	st := newFakeStore()
	seed(st)
	addChild(st)
	st.AppendLoadLog("res-p", "c1", types.StageBegin, "")

	c, err := New(context.Background(), "res-c",
		Options{Config: testConfig(), Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Contains(t, st.stagesFor("res-p"), types.StageBegin)
	assert.Contains(t, st.stagesFor("res-c"), types.StageBegin)
}

func TestCloseSkipsCleanupInBlockAllocation(t *testing.T) {
	st := newFakeStore()
	seed(st)

	c := newTestController(t, st)
	st.blocks["c1"] = true
	require.NoError(t, c.Close())

	// The block controller owns the logs; the worker leaves them and
	// its own membership row alone.
	assert.Contains(t, st.stagesFor("res-p"), types.StageBegin)
	assert.True(t, st.blocks["c1"])
	assert.Equal(t, 1, st.closes)
}

func TestCloseIdempotent(t *testing.T) {
	st := newFakeStore()
	seed(st)

	c := newTestController(t, st)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, 1, st.closes)
}

func TestHeartbeatLoop(t *testing.T) {
	st := newFakeStore()
	seed(st)
	cfg := testConfig()
	cfg.Heartbeat.Interval = config.Duration(10 * time.Millisecond)

	c, err := New(context.Background(), "res-p",
		Options{Config: cfg, Store: st, Factory: newFakeFactory()})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, c.Close())

	// One at startup plus the background ticker.
	assert.GreaterOrEqual(t, st.heartbeatCount("res-p"), 3)
}
