package bridge

import (
	"strings"

	"github.com/borsabridge/control-plane/internal/store"
)

// Status is the request lifecycle value written by either side.
type Status string

const (
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusWaitingUserSelection Status = "waiting_user_selection"
	StatusSelectionMade        Status = "selection_made"
	StatusCompleted            Status = "completed"
	StatusMiniAppWaitingUpload Status = "miniapp_waiting_upload"
	StatusTimeout              Status = "timeout"
	StatusCancelled            Status = "cancelled"
	StatusManualCompleted      Status = "manual_completed"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:              {},
	StatusProcessing:           {},
	StatusWaitingUserSelection: {},
	StatusSelectionMade:        {},
	StatusCompleted:            {},
	StatusMiniAppWaitingUpload: {},
	StatusTimeout:              {},
	StatusCancelled:            {},
	StatusManualCompleted:      {},
}

// ParseStatus reports false for values outside the closed set.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.TrimSpace(value))
	_, ok := knownStatuses[status]
	return status, ok
}

// Step is the controller-local flow position.
type Step string

const (
	StepIdle        Step = "idle"
	StepProcessing  Step = "processing"
	StepShowButtons Step = "show_buttons"
	StepUploadWait  Step = "upload_wait"
)

type Flow struct {
	Step    Step     `json:"step"`
	Symbol  string   `json:"symbol"`
	Options []string `json:"options"`
}

func (f Flow) clone() Flow {
	cloned := f
	if f.Options != nil {
		cloned.Options = append([]string(nil), f.Options...)
	}
	return cloned
}

type Request struct {
	Symbol       string
	Type         string
	TargetWorker string
	Status       Status
	Selection    string
	Timestamp    float64
}

func (r Request) Document() store.Document {
	doc := store.Document{
		"symbol":        r.Symbol,
		"type":          r.Type,
		"target_worker": r.TargetWorker,
		"status":        string(r.Status),
		"timestamp":     r.Timestamp,
	}
	if r.Selection != "" {
		doc["selection"] = r.Selection
	}
	return doc
}

// RequestFromDocument keeps an unknown status verbatim so callers can log it.
func RequestFromDocument(doc store.Document) Request {
	return Request{
		Symbol:       doc.String("symbol"),
		Type:         doc.String("type"),
		TargetWorker: doc.String("target_worker"),
		Status:       Status(doc.String("status")),
		Selection:    doc.String("selection"),
		Timestamp:    doc.Float("timestamp"),
	}
}

// Response carries either Options or ImageBase64, never both.
type Response struct {
	Options     []string
	ImageBase64 string
}

func (r Response) Document() store.Document {
	if len(r.Options) > 0 {
		return store.Document{"options": append([]string(nil), r.Options...)}
	}
	return store.Document{"image_base64": r.ImageBase64}
}

func ResponseFromDocument(doc store.Document) Response {
	return Response{
		Options:     doc.Strings("options"),
		ImageBase64: doc.String("image_base64"),
	}
}

const CommandRestart = "restart"

type SystemCommand struct {
	Command   string
	Timestamp float64
}

func (c SystemCommand) Document() store.Document {
	return store.Document{"command": c.Command, "timestamp": c.Timestamp}
}

func SystemCommandFromDocument(doc store.Document) SystemCommand {
	return SystemCommand{Command: doc.String("command"), Timestamp: doc.Float("timestamp")}
}

// Paths are the three document locations under one root.
type Paths struct {
	Request       string
	Response      string
	SystemCommand string
}

func NewPaths(root string) Paths {
	root = store.CleanPath(root)
	if root == "" {
		root = "bridge"
	}
	return Paths{
		Request:       root + "/request",
		Response:      root + "/response",
		SystemCommand: root + "/system_command",
	}
}
