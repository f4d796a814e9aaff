package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"

	dbussvc "github.com/cptspacemanspiff/gpu-power-monitor/internal/dbus"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

type dbusClient struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

func newDBusClient(bus string) (*dbusClient, error) {
	conn, err := dbussvc.Connect(bus)
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbussvc.BusName, dbussvc.ObjectPath)
	return &dbusClient{conn: conn, obj: obj}, nil
}

func (c *dbusClient) Close() error {
	return c.conn.Close()
}

func (c *dbusClient) GetSnapshot() (*worker.Envelope, error) {
	var jsonStr string
	err := c.obj.Call(dbussvc.Interface+".GetSnapshot", 0).Store(&jsonStr)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(jsonStr)
}

func (c *dbusClient) SetPowerMode(mode string) error {
	return c.obj.Call(dbussvc.Interface+".SetPowerMode", 0, mode).Err
}

func (c *dbusClient) KillProcess(pid uint32) error {
	return c.obj.Call(dbussvc.Interface+".KillProcess", 0, pid).Err
}

func (c *dbusClient) GetCommandHistory(from, to time.Time) ([]report.Event, error) {
	var jsonStr string
	err := c.obj.Call(dbussvc.Interface+".GetCommandHistory", 0, from.Unix(), to.Unix()).Store(&jsonStr)
	if err != nil {
		return nil, err
	}
	var events []report.Event
	if err := json.Unmarshal([]byte(jsonStr), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Watch calls fn for every SnapshotUpdated signal until ctx is canceled.
func (c *dbusClient) Watch(ctx context.Context, fn func(*worker.Envelope)) error {
	err := c.conn.AddMatchSignal(
		godbus.WithMatchObjectPath(dbussvc.ObjectPath),
		godbus.WithMatchInterface(dbussvc.Interface),
		godbus.WithMatchMember("SnapshotUpdated"),
	)
	if err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	ch := make(chan *godbus.Signal, 16)
	c.conn.Signal(ch)
	defer c.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			if sig == nil || sig.Name != dbussvc.SnapshotSignal || len(sig.Body) != 1 {
				continue
			}
			jsonStr, ok := sig.Body[0].(string)
			if !ok {
				continue
			}
			env, err := decodeEnvelope(jsonStr)
			if err != nil {
				return err
			}
			fn(env)
		}
	}
}

func decodeEnvelope(jsonStr string) (*worker.Envelope, error) {
	var env worker.Envelope
	if err := json.Unmarshal([]byte(jsonStr), &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &env, nil
}
