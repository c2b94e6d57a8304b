package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrDelivery marks failures of the rendering collaborator. Use errors.Is
	// to detect it; errors.As with *DeliveryError gives the details.
	ErrDelivery = errors.New("conversation: delivery failed")
	// ErrDirectoryClosed is returned once Directory.Close has been called.
	ErrDirectoryClosed = errors.New("conversation: directory closed")
	// ErrNoDialog is returned by Directory.Exec when the user never had a dialog.
	ErrNoDialog = errors.New("conversation: no dialog for user")
)

// DeliveryError reports a prompt that could not be delivered or decorated.
// The core never retries; the state handler that issued the prompt decides
// whether to retry, close the dialog or escalate.
type DeliveryError struct {
	Op   string // "deliver", "attach" or "default reply"
	User UserID
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("conversation: %s to %s failed: %v", e.Op, e.User, e.Err)
}

// Unwrap returns the renderer's error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDelivery) true for every DeliveryError.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}
