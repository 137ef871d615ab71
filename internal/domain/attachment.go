package domain

// AttachmentState tracks a pending attachment through its lifecycle.
type AttachmentState string

const (
	AttachmentStateUploading AttachmentState = "uploading"
	AttachmentStateReady     AttachmentState = "ready"
)

// PendingAttachment is a locally staged attachment. LocalID correlates
// it across the upload round-trip; ID and URL are assigned by the server
// once the transfer succeeds. A ready attachment gates the send action
// and is consumed exactly once when a message referencing it is sent.
type PendingAttachment struct {
	LocalID  string          `json:"local_id"`
	ID       int64           `json:"id,omitempty"`
	URL      string          `json:"url,omitempty"`
	Kind     ContentKind     `json:"kind"`
	Filename string          `json:"filename"`
	State    AttachmentState `json:"state"`
}

// Ready reports whether the attachment may be referenced by a send.
func (a *PendingAttachment) Ready() bool {
	return a.State == AttachmentStateReady && a.ID != 0 && a.URL != ""
}
