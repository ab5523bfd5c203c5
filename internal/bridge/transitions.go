package bridge

type action int

const (
	actionShowOptions action = iota + 1
	actionCollectImage
	actionAwaitUpload
	actionTimeout
)

type transitionKey struct {
	step   Step
	status Status
}

type transition struct {
	next   Step
	action action
}

// transitions drives Poll. Combinations not listed are a no-op.
var transitions = map[transitionKey]transition{
	{StepProcessing, StatusWaitingUserSelection}: {next: StepShowButtons, action: actionShowOptions},
	{StepProcessing, StatusCompleted}:            {next: StepIdle, action: actionCollectImage},
	{StepProcessing, StatusMiniAppWaitingUpload}: {next: StepUploadWait, action: actionAwaitUpload},
	{StepProcessing, StatusTimeout}:              {next: StepIdle, action: actionTimeout},
}

func lookupTransition(step Step, status Status) (transition, bool) {
	t, ok := transitions[transitionKey{step: step, status: status}]
	return t, ok
}
