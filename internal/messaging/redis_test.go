package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"tankdrive/internal/logger"
	"tankdrive/internal/types"
)

// fakeServer answers commands in a client hook so no server is dialed
type fakeServer struct {
	mu       sync.Mutex
	settings map[string]string
	hgetErr  error
	cmds     [][]interface{}
}

func (f *fakeServer) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial not expected")
	}
}

func (f *fakeServer) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(cmd)

		if cmd.Name() != "hget" {
			return nil
		}
		args := cmd.Args()
		if f.hgetErr != nil {
			cmd.SetErr(f.hgetErr)
			return f.hgetErr
		}
		value, ok := f.settings[fmt.Sprint(args[2])]
		if !ok {
			cmd.SetErr(redis.Nil)
			return redis.Nil
		}
		cmd.(*redis.StringCmd).SetVal(value)
		return nil
	}
}

func (f *fakeServer) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, cmd := range cmds {
			f.record(cmd)
			args := cmd.Args()
			if cmd.Name() == "hset" && args[1] == HashSettings {
				for i := 2; i+1 < len(args); i += 2 {
					f.settings[fmt.Sprint(args[i])] = fmt.Sprint(args[i+1])
				}
			}
		}
		return nil
	}
}

func (f *fakeServer) record(cmd redis.Cmder) {
	f.cmds = append(f.cmds, cmd.Args())
}

// find returns the first recorded command with the given name and key
func (f *fakeServer) find(name, key string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, args := range f.cmds {
		if strings.EqualFold(fmt.Sprint(args[0]), name) && len(args) > 1 && fmt.Sprint(args[1]) == key {
			return args
		}
	}
	return nil
}

func newTestClient(t *testing.T) (*RedisClient, *fakeServer) {
	t.Helper()
	server := &fakeServer{settings: make(map[string]string)}
	r := NewRedisClient("localhost:0", logger.NewLogger(nil, logger.LogLevelError), Callbacks{})
	r.client.AddHook(server)
	t.Cleanup(func() {
		r.cancel()
		r.client.Close()
	})
	return r, server
}

// fields turns HSET arguments into a field map
func fields(args []interface{}) map[string]string {
	out := make(map[string]string)
	for i := 2; i+1 < len(args); i += 2 {
		out[fmt.Sprint(args[i])] = fmt.Sprint(args[i+1])
	}
	return out
}

func TestGetDeadmanTimeoutUnset(t *testing.T) {
	r, _ := newTestClient(t)

	ms, ok, err := r.GetDeadmanTimeout()
	if err != nil {
		t.Fatalf("Expected no error for an unset timeout, got %v", err)
	}
	if ok || ms != 0 {
		t.Errorf("Expected not ok and 0, got ok=%v ms=%d", ok, ms)
	}
}

func TestGetDeadmanTimeoutStored(t *testing.T) {
	r, server := newTestClient(t)
	server.settings[SettingDeadmanTimeout] = "1500"

	ms, ok, err := r.GetDeadmanTimeout()
	if err != nil {
		t.Fatalf("GetDeadmanTimeout failed: %v", err)
	}
	if !ok || ms != 1500 {
		t.Errorf("Expected 1500 ms, got ok=%v ms=%d", ok, ms)
	}
}

func TestGetDeadmanTimeoutInvalid(t *testing.T) {
	r, server := newTestClient(t)
	server.settings[SettingDeadmanTimeout] = "soon"

	_, ok, err := r.GetDeadmanTimeout()
	if err == nil {
		t.Fatal("Expected an error for a non-numeric timeout")
	}
	if ok {
		t.Error("Expected not ok for a non-numeric timeout")
	}
}

func TestGetDeadmanTimeoutServerError(t *testing.T) {
	r, server := newTestClient(t)
	server.hgetErr = errors.New("LOADING dataset in memory")

	_, ok, err := r.GetDeadmanTimeout()
	if !errors.Is(err, server.hgetErr) {
		t.Fatalf("Expected wrapped server error, got %v", err)
	}
	if ok {
		t.Error("Expected not ok on a server error")
	}
}

func TestSaveDeadmanTimeout(t *testing.T) {
	r, server := newTestClient(t)

	if err := r.SaveDeadmanTimeout(750); err != nil {
		t.Fatalf("SaveDeadmanTimeout failed: %v", err)
	}

	ms, ok, err := r.GetDeadmanTimeout()
	if err != nil || !ok || ms != 750 {
		t.Errorf("Expected saved 750 ms, got ms=%d ok=%v err=%v", ms, ok, err)
	}
	pub := server.find("publish", ChannelSetting)
	if pub == nil || fmt.Sprint(pub[2]) != SettingDeadmanTimeout {
		t.Errorf("Expected settings notification for %s, got %v", SettingDeadmanTimeout, pub)
	}
}

func TestPublishDriveState(t *testing.T) {
	r, server := newTestClient(t)

	err := r.PublishDriveState(types.DriveSnapshot{
		State:            types.StateDriving,
		DeadmanTimeoutMs: 2000,
		Left:             types.MotorSnapshot{ID: "L", Mode: types.ModeRunning, Speed: 100, Duty: 100},
		Right:            types.MotorSnapshot{ID: "R", Mode: types.ModeStop},
	})
	if err != nil {
		t.Fatalf("PublishDriveState failed: %v", err)
	}

	hset := server.find("hset", HashTankDrive)
	if hset == nil {
		t.Fatal("Expected the drive hash to be written")
	}
	got := fields(hset)
	want := map[string]string{
		"state":              string(types.StateDriving),
		"stopped":            "false",
		"deadman-timeout-ms": "2000",
		"left:mode":          types.ModeRunning.String(),
		"left:speed":         "100",
		"right:mode":         types.ModeStop.String(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Expected %s=%q, got %q", k, v, got[k])
		}
	}
	if server.find("publish", ChannelDrive) == nil {
		t.Error("Expected a drive state notification")
	}
}

func TestReportFaults(t *testing.T) {
	r, server := newTestClient(t)

	if err := r.ReportFaultPresent(types.FaultBridge, "both lines high"); err != nil {
		t.Fatalf("ReportFaultPresent failed: %v", err)
	}
	if sadd := server.find("sadd", SetFault); sadd == nil || fmt.Sprint(sadd[2]) != "3" {
		t.Errorf("Expected fault 3 added to %s, got %v", SetFault, sadd)
	}
	if server.find("xadd", StreamFaults) == nil {
		t.Errorf("Expected a fault event on %s", StreamFaults)
	}

	if err := r.ReportFaultAbsent(types.FaultBridge); err != nil {
		t.Fatalf("ReportFaultAbsent failed: %v", err)
	}
	if srem := server.find("srem", SetFault); srem == nil || fmt.Sprint(srem[2]) != "3" {
		t.Errorf("Expected fault 3 removed from %s, got %v", SetFault, srem)
	}
}
