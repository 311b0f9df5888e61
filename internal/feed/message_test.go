package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/model"
)

func TestDecodeMessage(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{
		"type": "certification.created",
		"payload": {"id": "C1", "trainerId": "T1", "eventId": "evt-9"}
	}`), Channel)
	require.NoError(t, err)

	assert.Equal(t, model.KindCreated, ev.Kind)
	assert.Equal(t, "C1", ev.CertKey)
	assert.Equal(t, "T1", ev.TrainerRef)
	assert.Equal(t, model.StatusPending, ev.EffectiveStatus())
	assert.Equal(t, "evt-9", ev.ID)
	assert.Equal(t, Channel, ev.Channel)
}

func TestDecodeMessage_ActionShape(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{
		"action": "UPDATE",
		"result": {"id": "C1", "userId": "U1", "status": "approved"}
	}`), "webhook")
	require.NoError(t, err)

	assert.Equal(t, model.KindUpdated, ev.Kind)
	assert.Equal(t, model.StatusVerified, ev.Status)
	assert.Equal(t, "U1", ev.TrainerRef)
	assert.NotEmpty(t, ev.ID, "missing ids are generated")
}

func TestDecodeMessage_Ignored(t *testing.T) {
	for _, msg := range []string{
		`{"type": "ping"}`,
		`{"type": "trainer.updated", "payload": {"id": "T1"}}`,
	} {
		_, err := DecodeMessage([]byte(msg), Channel)
		assert.ErrorIs(t, err, ErrIgnored, msg)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	for _, msg := range []string{
		`not json`,
		`{"payload": {"id": "C1"}}`,
		`{"type": "certification.archived", "payload": {"id": "C1"}}`,
		`{"type": "certification.deleted"}`,
		`{"type": "certification.created", "payload": {"trainerId": "T1"}}`,
	} {
		_, err := DecodeMessage([]byte(msg), Channel)
		assert.ErrorIs(t, err, model.ErrMalformedPayload, msg)
	}
}
