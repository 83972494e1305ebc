package ports

import "context"

// EventPublisher notifies other components about completed ceremonies.
type EventPublisher interface {
	PublishRegistered(ctx context.Context, accountID, credentialID string) error
	PublishLogin(ctx context.Context, accountID, credentialID string) error
	PublishDeviceSigned(ctx context.Context, accountID, deviceID, credentialID string) error
}
