package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"roomsync/common"
	"roomsync/crdtpatch"
	"roomsync/execution"
	"roomsync/filetree"
	"roomsync/persist"
	"roomsync/presence"
	"roomsync/roomdoc"
)

// ErrClosed is returned when a connection reaches an actor that has already
// shut down. The caller should open the room again; a fresh actor rehydrates
// from the snapshot the departing one wrote.
var ErrClosed = errors.New("room is closed")

// Conn is the transport-side half of one attached connection. Send may be
// called from the actor goroutine only; implementations serialize their own
// writes.
type Conn interface {
	ID() int64
	Send(msg *OutboundMessage) error
	Close() error
}

// Options configures a room actor.
type Options struct {
	// Gate controls snapshot write coalescing.
	Gate *persist.GateOptions
	// HydrateTimeout bounds the cold-start load of persisted state.
	HydrateTimeout time.Duration
	// LockTTL bounds how long the cross-process hydration lease is held.
	LockTTL time.Duration
	// MailboxSize is the command channel capacity.
	MailboxSize int
	// Logger receives structured room logs.
	Logger *zap.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		Gate:           persist.DefaultGateOptions(),
		HydrateTimeout: 10 * time.Second,
		LockTTL:        30 * time.Second,
		MailboxSize:    256,
		Logger:         zap.NewNop(),
	}
}

// Deps are the external collaborators an actor talks to. Snapshots is
// required; the rest may be nil, disabling the matching behavior.
type Deps struct {
	Snapshots persist.SnapshotStore
	Records   persist.RecordAccess
	// Locker builds the cross-process hydration lease for a room key.
	Locker func(roomKey string, ttl time.Duration) *persist.Lock
	Runner  *execution.Runner
}

type actorState int

const (
	stateHydrating actorState = iota
	stateReady
	stateFailed
	stateClosed
)

type pendingAttach struct {
	conn  Conn
	reply chan error
}

// Actor is the single logical thread of one room. All replicated state (the
// document, the file-tree index, the presence registry, the execution
// broadcaster) is owned by the actor goroutine; external callers reach it
// only through Attach, Dispatch, Detach and Close, which post commands into
// the mailbox. Slow I/O never runs on the actor goroutine: hydration, flush
// and execution calls run as background tasks that post their results back.
type Actor struct {
	roomKey string
	opts    *Options
	deps    Deps
	logger  *zap.Logger

	doc      *roomdoc.RoomDocument
	tree     *filetree.Index
	registry *presence.Registry
	exec     *execution.Broadcaster
	gate     *persist.Gate
	meta     *persist.RoomMetadata

	state      actorState
	hydrateErr error
	pending    []pendingAttach
	conns      map[int64]Conn
	connIDs    *snowflake.Node

	commands chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closing  atomic.Bool

	// onEmpty fires once, after the last connection detaches and the final
	// flush completes.
	onEmpty func()
}

// NewActor creates a room actor and starts its goroutine. Hydration begins
// immediately in the background; connections attached before it finishes are
// parked and admitted (or rejected) when it resolves.
func NewActor(roomKey string, deps Deps, opts *Options, onEmpty func()) (*Actor, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("failed to create room actor: snapshot store is required")
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create id node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		roomKey:  roomKey,
		opts:     opts,
		deps:     deps,
		logger:   opts.Logger.With(zap.String("roomKey", roomKey)),
		doc:      roomdoc.New(common.NewSessionID()),
		registry: presence.NewRegistry(),
		state:    stateHydrating,
		conns:    make(map[int64]Conn),
		connIDs:  node,
		commands: make(chan func(), opts.MailboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		onEmpty:  onEmpty,
	}
	a.tree = filetree.NewIndex(a.doc)
	a.exec = execution.NewBroadcaster(a.doc)
	a.gate = persist.NewGate(opts.Gate, a.flushState, a.logger)

	go a.run()
	go a.hydrate()
	return a, nil
}

// RoomKey returns the key this actor serves.
func (a *Actor) RoomKey() string {
	return a.roomKey
}

// NextConnID mints a process-unique connection id for a new transport
// connection.
func (a *Actor) NextConnID() int64 {
	return a.connIDs.Generate().Int64()
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case fn := <-a.commands:
			fn()
		}
	}
}

// post hands fn to the actor goroutine. It reports false once the actor has
// shut down.
func (a *Actor) post(fn func()) bool {
	select {
	case <-a.ctx.Done():
		return false
	case a.commands <- fn:
		return true
	}
}

// Attach admits a connection to the room. It blocks until hydration has
// resolved; a room with no persisted record is rejected with
// common.ErrRoomNotFound.
func (a *Actor) Attach(ctx context.Context, conn Conn) error {
	reply := make(chan error, 1)
	ok := a.post(func() {
		switch a.state {
		case stateHydrating:
			a.pending = append(a.pending, pendingAttach{conn: conn, reply: reply})
		case stateReady:
			a.admit(conn)
			reply <- nil
		case stateFailed:
			reply <- a.hydrateErr
		default:
			reply <- ErrClosed
		}
	})
	if !ok {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		// The connection may be parked or already admitted; pull it out of
		// both so it cannot linger without a reader.
		a.post(func() {
			for i, p := range a.pending {
				if p.conn == conn {
					a.pending = append(a.pending[:i], a.pending[i+1:]...)
					break
				}
			}
			a.detach(conn.ID())
		})
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// Dispatch routes one raw inbound frame from a connection. Malformed or
// unknown frames are logged and dropped without touching room state.
func (a *Actor) Dispatch(connID int64, data []byte) {
	a.post(func() {
		msg, err := Decode(data)
		if err != nil {
			a.logger.Warn("dropping inbound message",
				zap.Int64("connID", connID),
				zap.Error(err))
			return
		}
		a.handle(connID, msg)
	})
}

// Detach removes a connection from the room. Safe to call more than once
// and after actor shutdown.
func (a *Actor) Detach(connID int64) {
	a.post(func() {
		a.detach(connID)
	})
}

// Closed reports whether the actor has begun shutting down. A closed actor
// never admits new connections.
func (a *Actor) Closed() bool {
	return a.closing.Load()
}

// Close stops the actor after a final flush of any pending changes.
func (a *Actor) Close(ctx context.Context) error {
	a.closing.Store(true)
	err := a.gate.Close(ctx)
	a.cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// --- hydration -------------------------------------------------------------

// hydrate loads or bootstraps the room's replicated state off the actor
// goroutine, then posts the outcome back in. At most one hydration runs per
// room across the whole deployment: the in-process state guard stops
// re-entry here, the Redis lease serializes concurrent cold starts, and the
// persisted initialized flag keeps a crashed initializer from being
// repeated.
func (a *Actor) hydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.HydrateTimeout)
	defer cancel()

	var lock *persist.Lock
	if a.deps.Locker != nil {
		lock = a.deps.Locker(a.roomKey, a.opts.LockTTL)
		if err := a.acquireLease(ctx, lock); err != nil {
			a.resolveHydration(nil, nil, fmt.Errorf("failed to acquire hydration lease: %w", err))
			return
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer releaseCancel()
			if err := lock.Release(releaseCtx); err != nil {
				a.logger.Warn("failed to release hydration lease", zap.Error(err))
			}
		}()
	}

	var meta *persist.RoomMetadata
	if a.deps.Records != nil {
		m, err := a.deps.Records.Metadata(ctx, a.roomKey)
		if err != nil {
			a.resolveHydration(nil, nil, err)
			return
		}
		meta = m
	}

	snapshot, err := a.deps.Snapshots.Load(ctx, a.roomKey)
	if err == nil {
		a.resolveHydration(snapshot, meta, nil)
		return
	}
	if err != persist.ErrSnapshotNotFound {
		a.resolveHydration(nil, nil, fmt.Errorf("failed to load snapshot: %w", err))
		return
	}

	// No cached snapshot. Under the lease, exactly one cold start across all
	// processes flips the persisted flag and bootstraps; everyone else must
	// hydrate from state the initializer wrote.
	if a.deps.Records != nil {
		initialized, err := a.deps.Records.Initialized(ctx, a.roomKey)
		if err != nil {
			a.resolveHydration(nil, nil, err)
			return
		}
		if !initialized {
			flipped, err := a.deps.Records.MarkInitialized(ctx, a.roomKey)
			if err != nil {
				a.resolveHydration(nil, nil, fmt.Errorf("failed to mark room initialized: %w", err))
				return
			}
			initialized = !flipped
		}
		if initialized {
			// The initializer persists its snapshot before releasing the
			// lease, so a set flag with a cold cache means the durable copy
			// lives on the room record. A room that has neither is not
			// bootstrapped a second time; it fails closed.
			stored, err := a.deps.Records.Snapshot(ctx, a.roomKey)
			if err != nil {
				a.resolveHydration(nil, nil, fmt.Errorf("room already initialized, snapshot unavailable: %w", err))
				return
			}
			if saveErr := a.deps.Snapshots.Save(ctx, a.roomKey, stored); saveErr != nil {
				a.logger.Warn("failed to repopulate snapshot cache", zap.Error(saveErr))
			}
			a.resolveHydration(stored, meta, nil)
			return
		}
	}

	// This replica is the initializer. The bootstrap snapshot is written
	// while the lease is still held so no concurrent cold start can build a
	// second divergent document.
	boot := a.resolveHydration(nil, meta, nil)
	if boot == nil {
		return
	}
	if err := a.deps.Snapshots.Save(ctx, a.roomKey, boot); err != nil {
		a.logger.Warn("failed to persist bootstrap snapshot", zap.Error(err))
	}
}

func (a *Actor) acquireLease(ctx context.Context, lock *persist.Lock) error {
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// resolveHydration applies the hydration outcome on the actor goroutine and
// releases every parked attach. For the bootstrap path it returns the encoded
// bootstrap state so hydrate can persist it while the lease is still held.
func (a *Actor) resolveHydration(snapshot []byte, meta *persist.RoomMetadata, err error) []byte {
	out := make(chan []byte, 1)
	posted := a.post(func() {
		var boot []byte
		if err == nil {
			a.meta = meta
			if snapshot != nil {
				err = a.doc.Hydrate(snapshot)
			} else {
				language, status := "javascript", "active"
				if meta != nil {
					language, status = meta.Language, meta.Status
				}
				_, err = a.doc.Bootstrap(language, status)
				if err == nil {
					boot, err = a.doc.Snapshot()
				}
				if err == nil {
					// The denormalized row still goes through the gate.
					a.gate.Schedule()
				}
			}
		}
		if err != nil {
			a.state = stateFailed
			a.hydrateErr = err
			// Closing is visible before any rejection is delivered, so a
			// caller that retries immediately gets a fresh actor.
			a.closing.Store(true)
			a.logger.Error("room hydration failed", zap.Error(err))
		} else {
			a.state = stateReady
			a.logger.Info("room hydrated",
				zap.Bool("fromSnapshot", snapshot != nil))
		}
		for _, p := range a.pending {
			if a.state == stateReady {
				a.admit(p.conn)
				p.reply <- nil
			} else {
				p.reply <- a.hydrateErr
			}
		}
		a.pending = nil
		if a.state == stateFailed {
			// A dead room must not pin the manager's map entry; evicting it
			// lets the next open start a fresh actor once storage recovers.
			a.evict()
		}
		out <- boot
	})
	if !posted {
		return nil
	}
	select {
	case <-a.ctx.Done():
		return nil
	case boot := <-out:
		return boot
	}
}

// --- connection lifecycle --------------------------------------------------

// admit registers an attached connection and sends it the current document
// snapshot and presence list. Runs on the actor goroutine.
func (a *Actor) admit(conn Conn) {
	a.conns[conn.ID()] = conn
	a.sendSnapshot(conn)
	a.send(conn, &OutboundMessage{Type: OutUserList, Users: a.registry.ListActive()})
	a.logger.Debug("connection attached",
		zap.Int64("connID", conn.ID()),
		zap.Int("connections", len(a.conns)))
}

func (a *Actor) detach(connID int64) {
	conn, ok := a.conns[connID]
	if !ok {
		return
	}
	delete(a.conns, connID)
	_ = conn.Close()

	if record, departed := a.registry.Leave(connID); departed {
		a.broadcast(&OutboundMessage{Type: OutUserLeft, User: record})
	}
	a.logger.Debug("connection detached",
		zap.Int64("connID", connID),
		zap.Int("connections", len(a.conns)))

	if len(a.conns) == 0 {
		a.evict()
	}
}

// evict flushes and unhooks an empty room. The final flush runs off the
// actor goroutine; the manager drops its reference via onEmpty.
func (a *Actor) evict() {
	a.state = stateClosed
	a.closing.Store(true)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.Gate.FlushTimeout)
		defer cancel()
		if err := a.gate.Close(ctx); err != nil {
			a.logger.Warn("final flush failed", zap.Error(err))
		}
		if a.onEmpty != nil {
			a.onEmpty()
		}
		a.cancel()
		a.logger.Info("room evicted")
	}()
}

// --- message handling ------------------------------------------------------

// handle routes one decoded message. Runs on the actor goroutine; every
// branch below may touch actor-owned state freely.
func (a *Actor) handle(connID int64, msg Inbound) {
	switch m := msg.(type) {
	case UserJoin:
		a.handleJoin(connID, m)
	case UserListRequest:
		a.replyTo(connID, &OutboundMessage{Type: OutUserList, Users: a.registry.ListActive()})
	case HeartbeatMsg:
		if key, ok := a.registry.IdentityFor(connID); ok {
			a.registry.Heartbeat(key)
		}
	case DocUpdate:
		a.handleDocUpdate(connID, m)
	case DocSync:
		if conn, ok := a.conns[connID]; ok {
			a.sendSnapshot(conn)
		}
	case FileCreate:
		kind := filetree.KindFile
		if m.Kind == string(filetree.KindFolder) {
			kind = filetree.KindFolder
		}
		_, patch, err := a.tree.Create(m.Path, kind, m.Content)
		a.finishTreeOp("create", m.Path, patch, err)
	case FileRename:
		patch, err := a.tree.Rename(m.Path, m.NewName)
		a.finishTreeOp("rename", m.Path, patch, err)
	case FileMove:
		patch, err := a.tree.Move(m.Path, m.NewParent)
		a.finishTreeOp("move", m.Path, patch, err)
	case FileDelete:
		patch, err := a.tree.Delete(m.Path)
		a.finishTreeOp("delete", m.Path, patch, err)
	case ChatSend:
		a.handleChat(connID, m)
	case ExecMessage:
		a.handleExecution(connID, m)
	}
}

func (a *Actor) handleJoin(connID int64, m UserJoin) {
	if m.Email == "" {
		a.logger.Warn("dropping join without email", zap.Int64("connID", connID))
		return
	}
	identity := presence.Identity{Email: m.Email, Name: m.Name, Color: m.Color}
	arrived := a.registry.Join(connID, identity)
	if arrived {
		a.trackUser(identity)
		record := a.recordFor(identity.Key())
		a.broadcastExcept(connID, &OutboundMessage{Type: OutUserJoined, User: record})
	}
	// The joiner always gets the authoritative list, arrival or not.
	a.replyTo(connID, &OutboundMessage{Type: OutUserList, Users: a.registry.ListActive()})
}

// trackUser appends the identity to the room's permanent participant log on
// its first ever join.
func (a *Actor) trackUser(identity presence.Identity) {
	for _, v := range a.doc.ArrayValue(roomdoc.FieldTrackedUsers) {
		if entry, ok := v.(map[string]interface{}); ok {
			if email, _ := entry["email"].(string); email == identity.Email {
				return
			}
		}
	}
	patch, err := a.doc.Append(roomdoc.FieldTrackedUsers, map[string]interface{}{
		"email":    identity.Email,
		"name":     identity.Name,
		"joinedAt": time.Now().UnixMilli(),
	})
	if err != nil {
		a.logger.Warn("failed to track user", zap.Error(err))
		return
	}
	a.broadcastPatch(patch)
	a.gate.Schedule()
}

func (a *Actor) recordFor(key string) *presence.Record {
	for _, r := range a.registry.ListActive() {
		if r.Key() == key {
			return r
		}
	}
	return nil
}

func (a *Actor) handleDocUpdate(connID int64, m DocUpdate) {
	if err := a.doc.ApplyEncodedPatch(m.Patch); err != nil {
		a.logger.Warn("dropping document update",
			zap.Int64("connID", connID),
			zap.String("doc", m.Doc),
			zap.Error(err))
		return
	}
	// Deltas go to every connection, the sender included. Replays are
	// no-ops on convergent state, so echoing is always safe.
	a.broadcast(&OutboundMessage{Type: OutDocUpdate, Doc: m.Doc, Patch: m.Patch})
	a.gate.Schedule()
}

func (a *Actor) finishTreeOp(op, path string, patch *crdtpatch.Patch, err error) {
	if err != nil {
		a.logger.Warn("rejecting file operation",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	a.broadcastPatch(patch)
	a.gate.Schedule()
}

func (a *Actor) handleChat(connID int64, m ChatSend) {
	key, ok := a.registry.IdentityFor(connID)
	if !ok || m.Text == "" {
		return
	}
	entry := map[string]interface{}{
		"id":        a.connIDs.Generate().String(),
		"email":     key,
		"text":      m.Text,
		"timestamp": time.Now().UnixMilli(),
	}
	if record := a.recordFor(key); record != nil {
		entry["name"] = record.Name
	}
	patch, err := a.doc.Append(roomdoc.FieldChat, entry)
	if err != nil {
		a.logger.Warn("failed to append chat message", zap.Error(err))
		return
	}
	a.broadcastPatch(patch)
	a.gate.Schedule()
}

func (a *Actor) handleExecution(connID int64, m ExecMessage) {
	switch m.MessageType {
	case "run":
		a.startRun(connID, m.Data)
	case "start":
		if a.exec.IsRunning() {
			a.logger.Warn("dropping execution start, already running",
				zap.Int64("connID", connID))
			return
		}
		patch, event, err := a.exec.Start()
		a.finishExecTransition(patch, event, err)
	case "output":
		var payload struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(m.Data, &payload); err != nil {
			a.logger.Warn("dropping execution output", zap.Error(err))
			return
		}
		event := a.exec.Output(payload.Output)
		a.broadcastEvent(event)
	case "complete":
		var payload struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(m.Data, &payload); err != nil {
			a.logger.Warn("dropping execution completion", zap.Error(err))
			return
		}
		patch, event, err := a.exec.Complete(payload.Output)
		a.finishExecTransition(patch, event, err)
	case "error":
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(m.Data, &payload); err != nil {
			a.logger.Warn("dropping execution error", zap.Error(err))
			return
		}
		patch, event, err := a.exec.Fail(payload.Error)
		a.finishExecTransition(patch, event, err)
	default:
		a.logger.Warn("dropping unknown execution message",
			zap.String("messageType", m.MessageType))
	}
}

// startRun begins a run and, when a runner is wired, drives it to completion
// in the background. Without a runner the room only relays lifecycle
// messages sent by an external driver.
func (a *Actor) startRun(connID int64, data json.RawMessage) {
	if a.exec.IsRunning() {
		a.logger.Warn("dropping run request, already running",
			zap.Int64("connID", connID))
		return
	}

	req := execution.RunRequest{
		Language: a.doc.Text(roomdoc.FieldLanguage),
		Code:     a.doc.Text(roomdoc.FieldCode),
	}
	if len(data) > 0 {
		var override execution.RunRequest
		if err := json.Unmarshal(data, &override); err == nil {
			if override.Language != "" {
				req.Language = override.Language
			}
			if override.Code != "" {
				req.Code = override.Code
			}
		}
	}

	patch, event, err := a.exec.Start()
	a.finishExecTransition(patch, event, err)
	if err != nil || a.deps.Runner == nil {
		return
	}

	go func() {
		result, runErr := a.deps.Runner.Run(a.ctx, req)
		a.post(func() {
			var patch *crdtpatch.Patch
			var event execution.Event
			var err error
			switch {
			case runErr != nil:
				patch, event, err = a.exec.Fail(runErr.Error())
			case result.Error != "":
				patch, event, err = a.exec.Fail(result.Error)
			default:
				patch, event, err = a.exec.Complete(result.Output)
			}
			a.finishExecTransition(patch, event, err)
		})
	}()
}

func (a *Actor) finishExecTransition(patch *crdtpatch.Patch, event execution.Event, err error) {
	if err != nil {
		a.logger.Warn("execution transition failed", zap.Error(err))
		return
	}
	a.broadcastPatch(patch)
	a.broadcastEvent(event)
	a.gate.Schedule()
}

// --- outbound --------------------------------------------------------------

func (a *Actor) sendSnapshot(conn Conn) {
	snapshot, err := a.doc.Snapshot()
	if err != nil {
		a.logger.Error("failed to snapshot document", zap.Error(err))
		return
	}
	a.send(conn, &OutboundMessage{Type: OutDocSync, Snapshot: snapshot})
}

func (a *Actor) broadcastPatch(patch *crdtpatch.Patch) {
	data, err := json.Marshal(patch)
	if err != nil {
		a.logger.Error("failed to encode patch", zap.Error(err))
		return
	}
	a.broadcast(&OutboundMessage{Type: OutDocUpdate, Patch: data})
}

func (a *Actor) broadcastEvent(event execution.Event) {
	a.broadcast(&OutboundMessage{
		Type:      event.Type,
		Output:    event.Output,
		Error:     event.Error,
		Timestamp: event.Timestamp,
	})
}

func (a *Actor) broadcast(msg *OutboundMessage) {
	for _, conn := range a.conns {
		a.send(conn, msg)
	}
}

func (a *Actor) broadcastExcept(connID int64, msg *OutboundMessage) {
	for id, conn := range a.conns {
		if id == connID {
			continue
		}
		a.send(conn, msg)
	}
}

func (a *Actor) replyTo(connID int64, msg *OutboundMessage) {
	if conn, ok := a.conns[connID]; ok {
		a.send(conn, msg)
	}
}

func (a *Actor) send(conn Conn, msg *OutboundMessage) {
	if err := conn.Send(msg); err != nil {
		a.logger.Debug("failed to send to connection",
			zap.Int64("connID", conn.ID()),
			zap.Error(err))
	}
}

// --- persistence -----------------------------------------------------------

// flushState is the gate's flush callback. It captures a consistent view on
// the actor goroutine, then writes the snapshot and the denormalized row off
// of it.
func (a *Actor) flushState(ctx context.Context) error {
	type capture struct {
		snapshot []byte
		record   *persist.RoomRecord
	}
	result := make(chan capture, 1)
	errCh := make(chan error, 1)
	ok := a.post(func() {
		snapshot, err := a.doc.Snapshot()
		if err != nil {
			errCh <- fmt.Errorf("failed to snapshot document: %w", err)
			return
		}
		record := &persist.RoomRecord{
			RoomKey:          a.roomKey,
			Code:             a.doc.Text(roomdoc.FieldCode),
			Language:         a.doc.Text(roomdoc.FieldLanguage),
			Status:           a.doc.Text(roomdoc.FieldStatus),
			Instructions:     a.doc.Text(roomdoc.FieldInstructions),
			ExecutionHistory: a.doc.ArrayValue(roomdoc.FieldExecutionHistory),
			Snapshot:         persist.EncodeSnapshot(snapshot),
			UpdatedAt:        time.Now().UTC(),
		}
		if a.meta != nil {
			record.OwnerID = a.meta.OwnerID
			record.OrgID = a.meta.OrgID
		}
		result <- capture{snapshot: snapshot, record: record}
	})
	if !ok {
		return ErrClosed
	}

	var captured capture
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	case captured = <-result:
	}

	if err := a.deps.Snapshots.Save(ctx, a.roomKey, captured.snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if a.deps.Records != nil {
		if err := a.deps.Records.Upsert(ctx, captured.record); err != nil {
			return fmt.Errorf("failed to upsert room record: %w", err)
		}
	}
	return nil
}
