package task

// ControlPlane is the subset of kernel operations a running task body is
// allowed to call back into. It is implemented by *kernel.Kernel; task
// cannot import kernel directly (kernel imports task), so the
// dependency runs through this interface instead.
type ControlPlane interface {
	Yield(taskID int)
	DelayMS(taskID int, ms int)
	SelfID() int
	CPUID() int

	// Tick is the stand-in for a timer interrupt landing mid-task: a
	// busy-looping task calls it once per unit of simulated work,
	// handing the baton back to the dispatcher so accounting and
	// preemption decisions can run (see DESIGN.md's context-switch
	// note). It returns once this task has been redispatched.
	Tick(taskID int)

	// Kill tears down the task identified by targetID. Called with
	// targetID equal to callerID, this is a self-kill and never returns
	// to the caller.
	Kill(callerID, targetID int) error
}

// Messenger is the subset of NoC operations a task body may call.
// Context embeds it as a separate interface, rather than folding it
// into ControlPlane, because not every task uses messaging and because
// pkg/noc, like pkg/kernel, must not be imported by pkg/task.
type Messenger interface {
	CommCreate(taskID, port int, flags int) error
	Send(taskID, targetCPU, targetPort int, buf []byte, channel int) error
	Recv(taskID, channel int) (srcCPU, srcTask int, buf []byte, err error)
	SendAck(taskID, targetCPU, targetPort int, buf []byte, channel, timeoutMS int) error
	RecvAck(taskID, channel int) (srcCPU, srcTask int, buf []byte, err error)
}

// Context is the handle a task's Entry function receives. It is the
// only way application code touches the kernel, mirroring the C API's
// hf_yield()/hf_selfid()/delay_ms() free functions, but scoped to one
// task instead of relying on implicit "current task" global state.
type Context struct {
	taskID int
	plane  ControlPlane
	msg    Messenger // nil if this node has no NoC subsystem wired up
}

// NewContext builds the Context handed to a task's Entry function.
func NewContext(taskID int, plane ControlPlane, msg Messenger) *Context {
	return &Context{taskID: taskID, plane: plane, msg: msg}
}

// SelfID returns this task's own id (hf_selfid()).
func (c *Context) SelfID() int {
	return c.taskID
}

// CPUID returns the node's CPU id (hf_cpuid()).
func (c *Context) CPUID() int {
	return c.plane.CPUID()
}

// Yield cooperatively re-enters the scheduler.
func (c *Context) Yield() {
	c.plane.Yield(c.taskID)
}

// DelayMS suspends the task for at least ms milliseconds of ticks.
func (c *Context) DelayMS(ms int) {
	c.plane.DelayMS(c.taskID, ms)
}

// Tick consumes one unit of simulated CPU work, yielding the baton back
// to the dispatcher so it can re-run accounting and preemption before
// resuming whichever task should run next (possibly this one again).
func (c *Context) Tick() {
	c.plane.Tick(c.taskID)
}

// Kill terminates targetID. Killing one's own id never returns.
func (c *Context) Kill(targetID int) error {
	return c.plane.Kill(c.taskID, targetID)
}

// CommCreate opens port on this task.
func (c *Context) CommCreate(port, flags int) error {
	return c.msg.CommCreate(c.taskID, port, flags)
}

// Send transmits buf unreliably (fire-and-forget).
func (c *Context) Send(targetCPU, targetPort int, buf []byte, channel int) error {
	return c.msg.Send(c.taskID, targetCPU, targetPort, buf, channel)
}

// Recv blocks until a message for channel has fully reassembled.
func (c *Context) Recv(channel int) (srcCPU, srcTask int, buf []byte, err error) {
	return c.msg.Recv(c.taskID, channel)
}

// SendAck transmits buf reliably: each attempt waits up to timeoutMS
// for the ack, and the send is retried until acked or the messenger's
// retry limit is exhausted.
func (c *Context) SendAck(targetCPU, targetPort int, buf []byte, channel, timeoutMS int) error {
	return c.msg.SendAck(c.taskID, targetCPU, targetPort, buf, channel, timeoutMS)
}

// RecvAck blocks for a message like Recv, then acknowledges it.
func (c *Context) RecvAck(channel int) (srcCPU, srcTask int, buf []byte, err error) {
	return c.msg.RecvAck(c.taskID, channel)
}
