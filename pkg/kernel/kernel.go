// Package kernel is the dispatcher at the center of the system: the TCB
// table, run/RT/delay queues, the shared heap, and the tick-driven
// scheduling loop.
//
// Hardware context switching has no analogue in a managed runtime, and
// original_source's own approach (setjmp/restoreexec) is explicitly not
// something to port verbatim. Instead, every task runs on
// its own goroutine, and at most one of them ever runs at a time: the
// kernel hands a single token between goroutines over unbuffered
// channels, so "the running task" and "the dispatcher" are never
// actually executing concurrently, even though each has its own Go call
// stack. A task gives the token back at an explicit checkpoint — Tick,
// Yield, DelayMS, or a blocking NoC call — the rendition of the point a
// real timer interrupt would otherwise land. See DESIGN.md for the full
// rationale.
package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hellfireos/hellfireos/pkg/errcode"
	"github.com/hellfireos/hellfireos/pkg/heap"
	"github.com/hellfireos/hellfireos/pkg/noc"
	"github.com/hellfireos/hellfireos/pkg/queue"
	"github.com/hellfireos/hellfireos/pkg/scheduler"
	"github.com/hellfireos/hellfireos/pkg/task"
)

// TickPeriodMS is how many milliseconds one tick represents, used only
// to convert DelayMS's millisecond argument into a tick count. It is not
// part of Config because it's a property of the clock driving Run, not
// of the kernel itself; a node configured with a 1ms RealTimeClock and
// one built with a 10ms clock both still just count ticks here.
const TickPeriodMS = 1

type resumeSignal struct {
	die bool
}

// PCB is the process control block: the kernel-wide counters
// original_source's krnl_pcb struct carries alongside the per-task TCB
// table.
type PCB struct {
	TickCount       uint64
	ContextSwitches uint64
	Preemptions     uint64
}

// Kernel is one node: its task table, scheduler queues, heap and NoC
// subsystem.
type Kernel struct {
	cfg Config
	log logrus.FieldLogger

	mu             sync.Mutex
	pcb            PCB
	tasks          map[int]*task.Task
	nextID         int
	current        int
	schedLockDepth int

	heapArena      *heap.Heap
	stacks         map[int]heap.Ptr
	runQueue       *queue.Queue[int]
	rtQueue        *queue.Queue[int]
	delayQueue     *queue.Queue[int]
	aperiodicQueue *queue.Queue[*scheduler.Aperiodic]

	resume map[int]chan resumeSignal
	parked chan struct{}

	idleID       int
	pollServerID int

	noc *noc.Subsystem
}

// New builds and boots a kernel: clears the TCB table, formats the
// heap, creates the scheduling queues, and spawns the idle task, the
// polling server, and (if enabled) the aperiodic arrival generator —
// the Go rendition of original_source's main() up to the app_main()
// call, which callers make themselves via Spawn.
func New(network *noc.Network, opts ...Option) (*Kernel, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if network == nil {
		network = noc.NewNetwork()
	}

	k := &Kernel{
		cfg:            cfg,
		log:            cfg.Logger,
		tasks:          make(map[int]*task.Task),
		stacks:         make(map[int]heap.Ptr),
		resume:         make(map[int]chan resumeSignal),
		parked:         make(chan struct{}),
		current:        task.FreeID,
		idleID:         task.FreeID,
		pollServerID:   task.FreeID,
		heapArena:      heap.New(cfg.HeapSize),
		runQueue:       queue.New[int](cfg.RunQueueSize),
		rtQueue:        queue.New[int](cfg.RTQueueSize),
		delayQueue:     queue.New[int](cfg.DelayQueueSize),
		aperiodicQueue: queue.New[*scheduler.Aperiodic](cfg.AperiodicQueueSize),
	}
	k.noc = noc.New(cfg.CPUID, k, network, cfg.Logger)

	if err := k.boot(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Kernel) boot() error {
	k.log.WithFields(logrus.Fields{"cpu": k.cfg.CPUID, "max_tasks": k.cfg.MaxTasks}).
		Info("booting node")

	if _, err := k.spawnInternal(idleEntry, 0, 0, 0, "idle", 256); err != nil {
		return fmt.Errorf("kernel: spawning idle task: %w", err)
	}
	k.idleID = k.nextID - 1

	psID, err := k.spawnInternal(k.pollingServerEntry, k.cfg.PollingServerPeriod, k.cfg.PollingServerCapacity, k.cfg.PollingServerPeriod, "polling server", 1024)
	if err != nil {
		return fmt.Errorf("kernel: spawning polling server: %w", err)
	}
	k.pollServerID = psID

	if k.cfg.AperiodicGenerator {
		if _, err := k.spawnInternal(k.aperiodicGeneratorEntry, 0, 0, 0, "aperiodic generator", 512); err != nil {
			return fmt.Errorf("kernel: spawning aperiodic generator: %w", err)
		}
	}
	return nil
}

func idleEntry(ctx *task.Context) {
	for {
		ctx.Tick()
	}
}

// Run drives the dispatch loop: wait for the clock to authorize a tick,
// run accounting and the scheduler, then hand the token to whichever
// task was chosen. It returns when ctx is canceled, or if a
// kernel.Panic condition is hit.
func (k *Kernel) Run(ctx context.Context, clock Clock) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p, ok := r.(*Panic); ok {
				k.log.WithField("code", p.Code).Error(p.Error())
				err = p
				return
			}
			panic(r)
		}
	}()

	for {
		if werr := clock.Wait(ctx); werr != nil {
			return werr
		}

		k.mu.Lock()
		k.onTick()
		next := k.schedule()
		k.mu.Unlock()

		if next == task.FreeID {
			panicf(PanicSchedulerInvariant, "no runnable task, not even idle")
		}
		k.dispatch(next)

		if sn, ok := clock.(settleNotifier); ok {
			sn.settled()
		}
	}
}

// onTick runs the per-tick accounting: advance the tick counter,
// charge CPU time to whoever is running, age the delay queue, and
// release new RT jobs. Called with k.mu held.
func (k *Kernel) onTick() {
	k.pcb.TickCount++

	if k.current != task.FreeID {
		if t, ok := k.tasks[k.current]; ok && t.IsRealTime() && t.CapacityRem > 0 {
			t.CapacityRem--
		}
	}

	k.ageDelayQueue()
	k.releaseRTJobs()
}

func (k *Kernel) ageDelayQueue() {
	var ready []int
	for i := 0; i < k.delayQueue.Count(); {
		id, err := k.delayQueue.Get(i)
		if err != nil {
			break
		}
		t, ok := k.tasks[id]
		if !ok {
			_ = k.delayQueue.Remove(i)
			continue
		}
		t.Delay--
		if t.Delay <= 0 {
			_ = k.delayQueue.Remove(i)
			ready = append(ready, id)
			continue
		}
		i++
	}
	for _, id := range ready {
		t := k.tasks[id]
		t.State = task.Ready
		t.Delay = 0
		if t.IsRealTime() {
			_ = k.rtQueue.AddTail(id)
		} else {
			_ = k.runQueue.AddTail(id)
		}
	}
}

// releaseRTJobs advances every RT task's deadline countdown, flags
// deadline misses, and releases the next job once a task's period
// elapses — classical polling-server semantics fall out of this for
// free, since the polling server is itself just another RT task, and an
// unconsumed capacity_rem is simply overwritten, not carried over —
// a documented trade-off.
func (k *Kernel) releaseRTJobs() {
	for id, t := range k.tasks {
		if !t.IsRealTime() || t.State == task.Idle {
			continue
		}
		if t.DeadlineRem > 0 {
			t.DeadlineRem--
		}
		if t.DeadlineRem > 0 {
			continue
		}
		if t.CapacityRem > 0 {
			t.DeadlineMisses++
			k.log.WithFields(logrus.Fields{"task": id, "name": t.Name}).Warn("deadline miss")
		}
		t.RTJobs++
		t.CapacityRem = t.Capacity
		t.DeadlineRem = t.Deadline
		if t.State != task.Running && !inQueue(k.rtQueue, id) {
			t.State = task.Ready
			_ = k.rtQueue.AddTail(id)
		}
	}
}

// schedule picks the next task id to run under the two-tier policy.
// Called with k.mu held.
func (k *Kernel) schedule() int {
	if k.schedLockDepth > 0 {
		if t, ok := k.tasks[k.current]; ok && (t.State == task.Ready || t.State == task.Running) {
			return k.current
		}
	}
	if id, ok := scheduler.SelectRT(k.eligibleRTQueue(), k.tasks); ok {
		return id
	}
	if idx, id, ok := scheduler.SelectBestEffort(k.runQueue, k.tasks); ok {
		scheduler.ApplyAging(k.runQueue, k.tasks, id)
		rotateToTail(k.runQueue, idx)
		return id
	}
	return k.idleID
}

// dispatch hands the token to next, blocking until it suspends again.
func (k *Kernel) dispatch(next int) {
	k.mu.Lock()
	if next != k.current {
		k.pcb.ContextSwitches++
		if prev, ok := k.tasks[k.current]; ok && prev.State == task.Running {
			k.pcb.Preemptions++
			prev.State = task.Ready
		}
		k.current = next
	}
	if t, ok := k.tasks[next]; ok {
		t.State = task.Running
	}
	resumeCh := k.resume[next]
	k.mu.Unlock()

	resumeCh <- resumeSignal{}
	<-k.parked
}

// park is called by a task's own goroutine (via Tick/Yield/DelayMS/
// Block) to give the token back and wait to be redispatched, or killed.
func (k *Kernel) park(taskID int) {
	resumeCh := k.resume[taskID]
	k.parked <- struct{}{}
	sig := <-resumeCh
	if sig.die {
		runtime.Goexit()
	}
}

// Tick implements task.ControlPlane: the task-visible checkpoint a
// busy-loop body calls once per unit of simulated work.
func (k *Kernel) Tick(taskID int) {
	k.mu.Lock()
	if t, ok := k.tasks[taskID]; ok && t.State == task.Running {
		t.State = task.Ready
	}
	k.mu.Unlock()
	k.park(taskID)
}

// Yield implements task.ControlPlane: the task moves to the tail of
// its ready queue before suspending.
func (k *Kernel) Yield(taskID int) {
	k.mu.Lock()
	if t, ok := k.tasks[taskID]; ok {
		t.State = task.Ready
		if t.IsRealTime() {
			rotateToTailByID(k.rtQueue, taskID)
		} else {
			rotateToTailByID(k.runQueue, taskID)
		}
	}
	k.mu.Unlock()
	k.park(taskID)
}

// DelayMS implements task.ControlPlane: removes the task from its
// ready queue and parks it in the delay queue for at least ms
// milliseconds of ticks.
func (k *Kernel) DelayMS(taskID int, ms int) {
	k.mu.Lock()
	if t, ok := k.tasks[taskID]; ok {
		ticks := ms / TickPeriodMS
		if ticks <= 0 {
			ticks = 1
		}
		t.Delay = ticks
		t.State = task.Delayed
		if t.IsRealTime() {
			removeFromQueue(k.rtQueue, taskID)
		} else {
			removeFromQueue(k.runQueue, taskID)
		}
		_ = k.delayQueue.AddTail(taskID)
	}
	k.mu.Unlock()
	k.park(taskID)
}

// Block implements noc.Blocker: removes the task from any ready queue
// and parks it until a matching Unblock call.
func (k *Kernel) Block(taskID int) {
	k.mu.Lock()
	if t, ok := k.tasks[taskID]; ok {
		t.State = task.Blocked
		if t.IsRealTime() {
			removeFromQueue(k.rtQueue, taskID)
		} else {
			removeFromQueue(k.runQueue, taskID)
		}
	}
	k.mu.Unlock()
	k.park(taskID)
}

// Unblock implements noc.Blocker: returns a blocked task to its ready
// queue. It may be called from any goroutine (a NoC delivery callback,
// a timer firing) and does not itself redispatch — the task is picked
// up by the dispatcher on a later tick like any other ready arrival.
func (k *Kernel) Unblock(taskID int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[taskID]
	if !ok || t.State != task.Blocked {
		return
	}
	t.State = task.Ready
	if t.IsRealTime() {
		_ = k.rtQueue.AddTail(taskID)
	} else {
		_ = k.runQueue.AddTail(taskID)
	}
}

// SelfID implements task.ControlPlane.
func (k *Kernel) SelfID() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// CPUID implements task.ControlPlane.
func (k *Kernel) CPUID() int {
	return k.cfg.CPUID
}

// NoC returns this node's messaging subsystem, so a multi-process
// demo harness (cmd/noc-harness) can attach a pkg/noc/transport link
// for a remote CPU before any task starts sending to it.
func (k *Kernel) NoC() *noc.Subsystem {
	return k.noc
}

// Spawn creates a new task and admits it to the appropriate scheduling
// tier. An RT task (period > 0) is admitted only if the resulting RT
// set still passes the Liu-Layland bound; otherwise Spawn fails with
// errcode.Unschedulable and nothing is created.
func (k *Kernel) Spawn(entry task.Entry, period, capacity, deadline int, name string, stackSize int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spawnInternal(entry, period, capacity, deadline, name, stackSize)
}

// spawnInternal is Spawn without locking, for use during boot (where
// the caller already holds no lock but isn't yet racing Run) and by
// Spawn itself.
func (k *Kernel) spawnInternal(entry task.Entry, period, capacity, deadline int, name string, stackSize int) (int, error) {
	if len(k.tasks) >= k.cfg.MaxTasks {
		return task.FreeID, errcode.NoSlot
	}

	stackPtr, err := k.heapArena.Malloc(stackSize)
	if err != nil {
		return task.FreeID, err
	}

	id := k.nextID
	t := &task.Task{
		ID: id, Name: name, State: task.Ready, StackSize: stackSize, Entry: entry,
		Period: period, Capacity: capacity, Deadline: deadline,
		CapacityRem: capacity, DeadlineRem: deadline,
	}

	if t.IsRealTime() {
		candidate := k.rtTaskSlice()
		candidate = append(candidate, t)
		if !scheduler.SchedulableLiuLayland(candidate) {
			_ = k.heapArena.Free(stackPtr)
			return task.FreeID, errcode.Unschedulable
		}
		scheduler.AssignRMA(candidate)
	}

	k.nextID++
	k.tasks[id] = t
	k.stacks[id] = stackPtr
	k.resume[id] = make(chan resumeSignal)

	ctx := task.NewContext(id, k, k.noc)
	t.SetContext(ctx)

	if t.IsRealTime() {
		_ = k.rtQueue.AddTail(id)
	} else {
		_ = k.runQueue.AddTail(id)
	}

	go func() {
		sig := <-k.resume[id]
		if !sig.die {
			entry(ctx)
			k.onExit(id)
		}
		k.parked <- struct{}{}
	}()

	k.log.WithFields(logrus.Fields{"task": id, "name": name, "period": period, "capacity": capacity}).
		Info("spawned task")
	return id, nil
}

// onExit runs when a task's Entry function returns on its own: the
// task reverts to Idle, exactly as if it had been killed.
func (k *Kernel) onExit(id int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t, ok := k.tasks[id]; ok {
		removeFromQueue(k.rtQueue, id)
		removeFromQueue(k.runQueue, id)
		removeFromQueue(k.delayQueue, id)
		if p, ok := k.stacks[id]; ok {
			_ = k.heapArena.Free(p)
			delete(k.stacks, id)
		}
		t.Reset()
		delete(k.tasks, id)
	}
}

// Kill implements task.ControlPlane: tears down targetID's TCB slot
// and frees its stack. Since only the currently
// running task's goroutine can ever be executing, callerID == targetID
// (a self-kill) is the only case where the caller is the task being
// torn down; the goroutine never returns from this call in that case.
func (k *Kernel) Kill(callerID, targetID int) error {
	k.mu.Lock()
	t, ok := k.tasks[targetID]
	if !ok || t.State == task.Idle {
		k.mu.Unlock()
		return errcode.BadParam
	}

	removeFromQueue(k.rtQueue, targetID)
	removeFromQueue(k.runQueue, targetID)
	removeFromQueue(k.delayQueue, targetID)
	if p, ok := k.stacks[targetID]; ok {
		_ = k.heapArena.Free(p)
		delete(k.stacks, targetID)
	}
	resumeCh := k.resume[targetID]
	selfKill := targetID == k.current
	t.Reset()
	delete(k.tasks, targetID)
	k.mu.Unlock()

	k.log.WithField("task", targetID).Info("task killed")

	if selfKill {
		k.parked <- struct{}{}
		runtime.Goexit()
	}
	resumeCh <- resumeSignal{die: true}
	return nil
}

// SchedLock implements a "scheduler lock" primitive: while depth > 0,
// Run's accounting still advances but schedule() must not switch away
// from the caller. fn runs with the lock held and is
// released (to its prior depth) when fn returns, even on panic.
func (k *Kernel) SchedLock(fn func()) {
	k.mu.Lock()
	k.schedLockDepth++
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.schedLockDepth--
		k.mu.Unlock()
	}()
	fn()
}

// IdleTaskID returns the id of the boot-time idle task.
func (k *Kernel) IdleTaskID() int {
	return k.idleID
}

// PollServerTaskID returns the id of the boot-time polling server task.
func (k *Kernel) PollServerTaskID() int {
	return k.pollServerID
}

// PCB returns a snapshot of the kernel-wide accounting counters.
func (k *Kernel) PCB() PCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pcb
}

// HeapFree reports the shared heap's currently free byte count.
func (k *Kernel) HeapFree() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.heapArena.Free()
}

// QueueDepths is a read-only snapshot of how many entries are
// currently queued in each of the kernel's internal queues, for
// pkg/metrics.
type QueueDepths struct {
	RunQueue       int
	RTQueue        int
	DelayQueue     int
	AperiodicQueue int
}

// QueueDepths reports the current depth of every internal queue.
func (k *Kernel) QueueDepths() QueueDepths {
	k.mu.Lock()
	defer k.mu.Unlock()
	return QueueDepths{
		RunQueue:       k.runQueue.Count(),
		RTQueue:        k.rtQueue.Count(),
		DelayQueue:     k.delayQueue.Count(),
		AperiodicQueue: k.aperiodicQueue.Count(),
	}
}

// TaskSnapshot is a read-only copy of a TCB, safe to read without the
// kernel's lock.
type TaskSnapshot struct {
	ID             int
	Name           string
	State          task.State
	Period         int
	Capacity       int
	CapacityRem    int
	Deadline       int
	DeadlineRem    int
	Priority       int
	RTJobs         uint64
	BGJobs         uint64
	DeadlineMisses uint64
}

// Tasks returns a snapshot of every live task, for diagnostics and
// pkg/metrics.
func (k *Kernel) Tasks() []TaskSnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]TaskSnapshot, 0, len(k.tasks))
	for _, t := range k.tasks {
		out = append(out, TaskSnapshot{
			ID: t.ID, Name: t.Name, State: t.State,
			Period: t.Period, Capacity: t.Capacity, CapacityRem: t.CapacityRem,
			Deadline: t.Deadline, DeadlineRem: t.DeadlineRem,
			Priority: t.Priority, RTJobs: t.RTJobs, BGJobs: t.BGJobs,
			DeadlineMisses: t.DeadlineMisses,
		})
	}
	return out
}

// eligibleRTQueue copies the ids in rtQueue whose capacity_rem hasn't
// been exhausted for the current period into a fresh queue: a task that
// has used up its budget is still "ready" in the sense of being on the
// RT tier, but must not be redispatched until its next job release.
func (k *Kernel) eligibleRTQueue() *queue.Queue[int] {
	q := queue.New[int](k.rtQueue.Capacity())
	for i := 0; i < k.rtQueue.Count(); i++ {
		id, err := k.rtQueue.Get(i)
		if err != nil {
			continue
		}
		if t, ok := k.tasks[id]; ok && t.CapacityRem > 0 {
			_ = q.AddTail(id)
		}
	}
	return q
}

func (k *Kernel) rtTaskSlice() []*task.Task {
	out := make([]*task.Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		if t.IsRealTime() {
			out = append(out, t)
		}
	}
	return out
}

func inQueue(q *queue.Queue[int], id int) bool {
	for i := 0; i < q.Count(); i++ {
		if v, err := q.Get(i); err == nil && v == id {
			return true
		}
	}
	return false
}

func removeFromQueue(q *queue.Queue[int], id int) {
	for i := 0; i < q.Count(); i++ {
		if v, err := q.Get(i); err == nil && v == id {
			_ = q.Remove(i)
			return
		}
	}
}

func rotateToTail(q *queue.Queue[int], idx int) {
	id, err := q.Get(idx)
	if err != nil {
		return
	}
	_ = q.Remove(idx)
	_ = q.AddTail(id)
}

func rotateToTailByID(q *queue.Queue[int], id int) {
	for i := 0; i < q.Count(); i++ {
		if v, err := q.Get(i); err == nil && v == id {
			rotateToTail(q, i)
			return
		}
	}
}
