package transfer

import (
	"fmt"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

// Kind identifies an [Event].
type Kind int

const (
	KindProgress Kind = iota
	KindSuccess
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reason classifies a failed transfer.
type Reason int

const (
	ReasonNetwork  Reason = iota // transport error
	ReasonRejected               // non-201 response
	ReasonAborted                // caller context cancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonRejected:
		return "rejected"
	case ReasonAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Err maps the reason to its sentinel in the error taxonomy.
func (r Reason) Err() error {
	switch r {
	case ReasonRejected:
		return shared.ErrRejected
	case ReasonAborted:
		return shared.ErrAborted
	default:
		return shared.ErrNetwork
	}
}

// Event is one item of a transfer's event stream.
type Event struct {
	Kind   Kind
	Ratio  float64            // progress only, in (0,1]
	Entry  *models.VideoEntry // success only, when the server echoed the created entry
	Reason Reason             // failure only
	Err    error              // failure only
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Kind != KindProgress
}

func (e Event) String() string {
	switch e.Kind {
	case KindProgress:
		return fmt.Sprintf("progress(%.2f)", e.Ratio)
	case KindFailure:
		return fmt.Sprintf("failure(%s)", e.Reason)
	default:
		return e.Kind.String()
	}
}

const (
	FileField  = "video"
	TitleField = "title"
)

// Field is one multipart form field. Exactly one field of an upload carries a File.
type Field struct {
	Name  string
	Value string
	File  models.File
}

// UploadFields builds the form the video service expects: a title and the video file.
func UploadFields(file models.File, title string) []Field {
	return []Field{
		{Name: TitleField, Value: title},
		{Name: FileField, File: file},
	}
}
