package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/burakerenkisapro1122/bchat/internal/mocks"
	"github.com/burakerenkisapro1122/bchat/internal/telemetry"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit_logs.sessions", "bchat", "test")

	userID := "7"
	publisher.On("Publish", mock.Anything, "audit_logs.sessions", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok &&
			envelope.SchemaVersion == 1 &&
			envelope.EventType == "audit_log" &&
			envelope.Service == "bchat" &&
			envelope.RequestID == "req-1" &&
			envelope.UserID != nil && *envelope.UserID == "7" &&
			envelope.Payload.Level == "INFO" &&
			envelope.Payload.Text == "session started"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "session started", "req-1", &userID)
	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit_logs.sessions", "bchat", "test")

	publisher.On("Publish", mock.Anything, "audit_logs.sessions", mock.Anything).
		Return(assert.AnError).Once()

	emitter.Emit(context.Background(), "ERROR", "boom", "req-2", nil)
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitterAndPublisher(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	emitter.Emit(context.Background(), "INFO", "ignored", "req-3", nil)

	emitter = telemetry.NewAuditEmitter(nil, "audit_logs.sessions", "bchat", "test")
	emitter.Emit(context.Background(), "INFO", "ignored", "req-3", nil)
}
