package repl

// WorkerMessage is everything the worker's mailbox carries.
// The set is closed: DoWork and QuitWorker.
type WorkerMessage interface {
	workerMessage()
}

// DoWork asks the worker to interpret Text as a command.
type DoWork struct {
	ID   string // submission id, for correlation only
	Text string
}

// QuitWorker stops the worker; it produces no reply.
type QuitWorker struct{}

func (DoWork) workerMessage()     {}
func (QuitWorker) workerMessage() {}

// MainMessage is everything the coordinator's mailbox carries.
// The set is closed: WorkResult, UserInput and Quit.
type MainMessage interface {
	mainMessage()
}

// WorkResult is the worker's human-readable outcome for one DoWork.
type WorkResult struct {
	ID   string
	Text string
}

// UserInput is one trimmed line read by the input actor.
type UserInput struct {
	Text string
}

// Quit asks the coordinator to shut the system down.
type Quit struct{}

func (WorkResult) mainMessage() {}
func (UserInput) mainMessage()  {}
func (Quit) mainMessage()       {}

// messageKind names a message for metrics and logs.
func messageKind(msg interface{}) string {
	switch msg.(type) {
	case DoWork:
		return "do_work"
	case QuitWorker:
		return "quit_worker"
	case WorkResult:
		return "work_result"
	case UserInput:
		return "user_input"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}
