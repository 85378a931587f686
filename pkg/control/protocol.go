// Package control implements the §6.2 IPC-adapter command surface over the
// daemon's local socket: syncNow, syncAll, pauseSync/resumeSync/cancelSync,
// rebuildIndex, triggerEviction, resolveConflict, getFullState,
// listActivities, plus mount/unmount. CommandStop is defined, but hybridfsd
// does not handle it (a stop request gets an "unknown command" error) and
// hybridfsctl has no stop subcommand. Requests
// are accepted as soon as the engine acknowledges them (§6.2 "non-blocking";
// long-running effects are reported via the Notifier instead), mirroring
// the teacher's own daemon↔CLI split (cmd/mutagen's commands connect,
// invoke, and return immediately while a separate monitor stream carries
// progress) without needing gRPC for a single local socket (see DESIGN.md).
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/duallayer/hybridfs/pkg/daemon"
)

// Command identifies one §6.2 command endpoint.
type Command string

const (
	CommandSyncNow        Command = "syncNow"
	CommandSyncAll        Command = "syncAll"
	CommandPauseSync      Command = "pauseSync"
	CommandResumeSync     Command = "resumeSync"
	CommandCancelSync     Command = "cancelSync"
	CommandRebuildIndex   Command = "rebuildIndex"
	CommandTriggerEvict   Command = "triggerEviction"
	CommandResolve        Command = "resolveConflict"
	CommandGetFullState   Command = "getFullState"
	CommandListActivities Command = "listActivities"
	CommandMount          Command = "mount"
	CommandUnmount        Command = "unmount"
	CommandStop           Command = "stop"
)

// Request is one command invocation.
type Request struct {
	Command      Command `json:"command"`
	SyncPairID   string  `json:"syncPairId,omitempty"`
	RelativePath string  `json:"relativePath,omitempty"`
	Resolution   string  `json:"resolution,omitempty"`
	LocalDir     string  `json:"localDir,omitempty"`
	ExternalDir  string  `json:"externalDir,omitempty"`
	TargetDir    string  `json:"targetDir,omitempty"`
}

// Response carries either a result payload or an error message. Data is
// left as raw JSON so each command can shape its own result without this
// package needing to know every command's return type.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler processes one decoded Request and returns the value to encode
// into Response.Data.
type Handler func(Request) (any, error)

// Call dials the daemon socket, sends req, and decodes the response. Each
// call is a single request/response exchange over its own connection,
// matching the non-blocking, fire-and-forget command semantics of §6.2.
func Call(timeout time.Duration, req Request) (*Response, error) {
	conn, err := daemon.DialTimeout(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("unable to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	if !resp.OK {
		return &resp, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

// Serve accepts connections on listener until it's closed, dispatching each
// decoded Request to handle and writing back a Response.
func Serve(listener net.Listener, handle Handler) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go serveOne(conn, handle)
	}
}

func serveOne(conn net.Conn, handle Handler) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	data, err := handle(req)
	if err != nil {
		_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: err.Error()})
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: fmt.Sprintf("unable to marshal response: %v", err)})
		return
	}
	_ = json.NewEncoder(conn).Encode(Response{OK: true, Data: raw})
}
