// Package notifier delivers alert messages.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"momentumwatch/pkg/model"
)

var (
	// ErrAuthentication means the mail server rejected the credentials.
	// Retrying cannot help.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDelivery means the message was not accepted
	ErrDelivery = errors.New("delivery failed")
)

// Sender delivers one message to all of its recipients, or to none
type Sender interface {
	Send(ctx context.Context, msg *model.AlertMessage) error
}

// DeliveryError describes a failed delivery attempt. Temporary failures
// (network problems, 4xx replies) are worth retrying; 5xx replies are not.
type DeliveryError struct {
	Stage     string
	Err       error
	Temporary bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches ErrDelivery
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// AuthError wraps the server's rejection of the credentials
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smtp auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches ErrAuthentication
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

// IsTemporary reports whether err is a delivery failure worth retrying
func IsTemporary(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Temporary
}
