package access

import "fmt"

// View read-only snapshot handed to the presentation layer
type View struct {
	SessionID        string `json:"session_id"`
	LectureID        string `json:"lecture_id"`
	State            State  `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds"`
	MediaAttached    bool   `json:"media_attached"`
	PaymentPending   bool   `json:"payment_pending"`
	MediaAvailable   bool   `json:"media_available"`
	SurfaceMounted   bool   `json:"surface_mounted"`
	Source           string `json:"source,omitempty"`
	Overlay          string `json:"overlay,omitempty"`
	Price            string `json:"price,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// overlay messages
const (
	OverlayNoPreview    = "No video available."
	OverlayPreviewEnded = "Preview ended."
)

func overlayFor(state State, available bool, previewSeconds int) string {
	if !available {
		return OverlayNoPreview
	}
	switch state {
	case LockedIdle:
		return fmt.Sprintf("Watch %ds free preview", previewSeconds)
	case LockedEnded:
		return OverlayPreviewEnded
	}
	return ""
}
